// Package diff computes line-level diffs and owns the patch model shared by
// the validator, the gate, the dry-run simulator, and the applicator. The
// Myers core comes from sergi/go-diff; hunk grouping, the apply semantics,
// and the unified-diff envelope live here.
package diff

import (
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineKind tags one hunk line.
type LineKind string

const (
	LineContext LineKind = "context"
	LineAdd     LineKind = "add"
	LineRemove  LineKind = "remove"
)

// Line is a single tagged line inside a hunk.
type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
}

// Hunk is one contiguous change region. OldLines counts context plus remove
// lines; NewLines counts context plus add lines. A zero OldLines hunk starts
// after line OldStart (0 means top of file).
type Hunk struct {
	OldStart int    `json:"oldStart"`
	OldLines int    `json:"oldLines"`
	NewStart int    `json:"newStart"`
	NewLines int    `json:"newLines"`
	Lines    []Line `json:"lines"`
}

// Patch is the unified change to one file. Patches move between components
// by value; nothing mutates a patch after the engine emits it.
type Patch struct {
	Filename  string `json:"filename"`
	IsNew     bool   `json:"isNew"`
	IsDeleted bool   `json:"isDeleted"`
	Hunks     []Hunk `json:"hunks"`
}

// Stats returns the added and removed line counts across all hunks.
func (p Patch) Stats() (added, removed int) {
	for _, h := range p.Hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case LineAdd:
				added++
			case LineRemove:
				removed++
			}
		}
	}
	return added, removed
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Hunks) == 0
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes patches with caching for identical input pairs.
type Engine struct {
	dmp          *diffmatchpatch.DiffMatchPatch
	contextLines int
	cache        sync.Map
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates an engine emitting hunks with the given context depth.
// Non-positive context falls back to the default of 3 lines.
func NewEngine(contextLines int) *Engine {
	if contextLines <= 0 {
		contextLines = 3
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over speed for config-sized inputs
	return &Engine{dmp: dmp, contextLines: contextLines}
}

// Compute diffs oldContent against newContent for one file. Creation and
// deletion short-circuit to a single hunk.
func (e *Engine) Compute(filename, oldContent, newContent string) Patch {
	if oldContent == newContent {
		return Patch{Filename: filename}
	}
	if oldContent == "" {
		return newFilePatch(filename, newContent)
	}
	if newContent == "" {
		return deleteFilePatch(filename, oldContent)
	}

	key := cacheKey{fnv1a(oldContent), fnv1a(newContent)}
	if cached, ok := e.cache.Load(key); ok {
		p := cached.(Patch)
		p.Filename = filename
		return p
	}

	ops := e.lineOps(oldContent, newContent)
	p := Patch{
		Filename: filename,
		Hunks:    groupHunks(ops, e.contextLines),
	}
	e.cache.Store(key, p)
	p.Filename = filename
	return p
}

func newFilePatch(filename, content string) Patch {
	lines := splitLines(content)
	hunk := Hunk{OldStart: 0, OldLines: 0, NewStart: 1, NewLines: len(lines)}
	for _, l := range lines {
		hunk.Lines = append(hunk.Lines, Line{Kind: LineAdd, Text: l})
	}
	return Patch{Filename: filename, IsNew: true, Hunks: []Hunk{hunk}}
}

func deleteFilePatch(filename, content string) Patch {
	lines := splitLines(content)
	hunk := Hunk{OldStart: 1, OldLines: len(lines), NewStart: 0, NewLines: 0}
	for _, l := range lines {
		hunk.Lines = append(hunk.Lines, Line{Kind: LineRemove, Text: l})
	}
	return Patch{Filename: filename, IsDeleted: true, Hunks: []Hunk{hunk}}
}

// =============================================================================
// LINE-LEVEL DIFF
// =============================================================================

type lineOp struct {
	kind LineKind
	text string
}

// lineOps runs the Myers diff at line granularity: each distinct line is
// encoded as one rune so the diff, and the semantic cleanup after it, operate
// on whole lines only.
func (e *Engine) lineOps(oldContent, newContent string) []lineOp {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	index := make(map[string]rune)
	decode := make(map[rune]string)
	next := rune(1)
	encode := func(lines []string) string {
		var b strings.Builder
		b.Grow(len(lines))
		for _, l := range lines {
			r, ok := index[l]
			if !ok {
				// Skip the surrogate block: those runes do not survive
				// a round trip through a Go string.
				if next == 0xD800 {
					next = 0xE000
				}
				r = next
				index[l] = r
				decode[r] = l
				next++
			}
			b.WriteRune(r)
		}
		return b.String()
	}

	encOld := encode(oldLines)
	encNew := encode(newLines)

	diffs := e.dmp.DiffMain(encOld, encNew, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)

	var ops []lineOp
	for _, d := range diffs {
		kind := LineContext
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = LineRemove
		case diffmatchpatch.DiffInsert:
			kind = LineAdd
		}
		for _, r := range d.Text {
			ops = append(ops, lineOp{kind: kind, text: decode[r]})
		}
	}
	return ops
}

// groupHunks splits the op stream into hunks carrying at most contextLines of
// unchanged lines on each side. Two change regions separated by more than
// 2*contextLines unchanged lines land in separate hunks.
func groupHunks(ops []lineOp, contextLines int) []Hunk {
	var changes []int
	for i, op := range ops {
		if op.kind != LineContext {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	type span struct{ first, last int }
	var spans []span
	cur := span{changes[0], changes[0]}
	for _, idx := range changes[1:] {
		if idx-cur.last-1 > 2*contextLines {
			spans = append(spans, cur)
			cur = span{idx, idx}
		} else {
			cur.last = idx
		}
	}
	spans = append(spans, cur)

	hunks := make([]Hunk, 0, len(spans))
	for _, sp := range spans {
		start := sp.first - contextLines
		if start < 0 {
			start = 0
		}
		end := sp.last + contextLines
		if end > len(ops)-1 {
			end = len(ops) - 1
		}

		oldBefore, newBefore := 0, 0
		for _, op := range ops[:start] {
			if op.kind != LineAdd {
				oldBefore++
			}
			if op.kind != LineRemove {
				newBefore++
			}
		}

		h := Hunk{}
		for _, op := range ops[start : end+1] {
			h.Lines = append(h.Lines, Line{Kind: op.kind, Text: op.text})
			if op.kind != LineAdd {
				h.OldLines++
			}
			if op.kind != LineRemove {
				h.NewLines++
			}
		}
		h.OldStart = oldBefore + 1
		if h.OldLines == 0 {
			h.OldStart = oldBefore
		}
		h.NewStart = newBefore + 1
		if h.NewLines == 0 {
			h.NewStart = newBefore
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// splitLines splits a document into lines without newline terminators. The
// empty document has no lines; a trailing newline yields a trailing empty
// line, so Join inverts Split byte for byte.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// fnv1a hashes content for the compute cache.
func fnv1a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
