package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"forgefix/internal/faults"
)

// Format renders a patch in unified-diff form. Created files carry /dev/null
// on the old side, deleted files on the new side. Hunk headers always carry
// explicit counts.
func Format(p Patch) string {
	var b strings.Builder

	oldPath := "a/" + p.Filename
	newPath := "b/" + p.Filename
	if p.IsNew {
		oldPath = "/dev/null"
	}
	if p.IsDeleted {
		newPath = "/dev/null"
	}
	fmt.Fprintf(&b, "--- %s\n", oldPath)
	fmt.Fprintf(&b, "+++ %s\n", newPath)

	for _, h := range p.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, l := range h.Lines {
			switch l.Kind {
			case LineAdd:
				b.WriteString("+")
			case LineRemove:
				b.WriteString("-")
			default:
				b.WriteString(" ")
			}
			b.WriteString(l.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatAll renders several patches as one multi-file unified diff.
func FormatAll(patches []Patch) string {
	var b strings.Builder
	for _, p := range patches {
		b.WriteString(Format(p))
	}
	return b.String()
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse reads a single-file unified diff. It rejects input containing more
// than one file header; use ParseAll for multi-file diffs.
func Parse(text string) (Patch, error) {
	patches, err := ParseAll(text)
	if err != nil {
		return Patch{}, err
	}
	switch len(patches) {
	case 0:
		return Patch{}, faults.New(faults.InputInvalid, "no file header in diff")
	case 1:
		return patches[0], nil
	default:
		return Patch{}, faults.New(faults.InputInvalid,
			"expected a single-file diff, found %d files", len(patches))
	}
}

// ParseAll reads a unified diff covering any number of files. Hunk bodies are
// consumed by the counts the header declares, so body lines that look like
// headers cannot derail the parse. Git framing lines (diff --git, index, mode
// changes) are tolerated and skipped.
func ParseAll(text string) ([]Patch, error) {
	var (
		patches []Patch
		cur     *Patch
		hunk    *Hunk
		gotOld  int
		gotNew  int
		oldPath string
	)

	closeHunk := func() error {
		if hunk == nil {
			return nil
		}
		if gotOld != hunk.OldLines || gotNew != hunk.NewLines {
			return faults.New(faults.InputInvalid,
				"hunk at -%d,%d declares %d/%d lines but carries %d/%d",
					hunk.OldStart, hunk.NewStart, hunk.OldLines, hunk.NewLines, gotOld, gotNew)
		}
		cur.Hunks = append(cur.Hunks, *hunk)
		hunk = nil
		return nil
	}
	closeFile := func() error {
		if err := closeHunk(); err != nil {
			return err
		}
		if cur != nil {
			patches = append(patches, *cur)
			cur = nil
		}
		return nil
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		// Inside an incomplete hunk every line is body, whatever it looks like.
		if hunk != nil && (gotOld < hunk.OldLines || gotNew < hunk.NewLines) {
			switch {
			case strings.HasPrefix(line, "+"):
				hunk.Lines = append(hunk.Lines, Line{Kind: LineAdd, Text: line[1:]})
				gotNew++
			case strings.HasPrefix(line, "-"):
				hunk.Lines = append(hunk.Lines, Line{Kind: LineRemove, Text: line[1:]})
				gotOld++
			case strings.HasPrefix(line, " "):
				hunk.Lines = append(hunk.Lines, Line{Kind: LineContext, Text: line[1:]})
				gotOld++
				gotNew++
			case strings.HasPrefix(line, `\`):
				// "\ No newline at end of file"; the content is already captured.
			case line == "":
				// Some emitters drop the leading space on blank context lines.
				hunk.Lines = append(hunk.Lines, Line{Kind: LineContext, Text: ""})
				gotOld++
				gotNew++
			default:
				return nil, faults.New(faults.InputInvalid,
					"unexpected line %d inside hunk: %q", i+1, line)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "--- "):
			if err := closeFile(); err != nil {
				return nil, err
			}
			oldPath = strings.TrimSpace(strings.TrimPrefix(line, "--- "))

		case strings.HasPrefix(line, "+++ "):
			if cur != nil || oldPath == "" {
				return nil, faults.New(faults.InputInvalid,
					"stray +++ header at line %d", i+1)
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			p := Patch{
				IsNew:     oldPath == "/dev/null",
				IsDeleted: newPath == "/dev/null",
			}
			if p.IsDeleted {
				p.Filename = stripPathPrefix(oldPath)
			} else {
				p.Filename = stripPathPrefix(newPath)
			}
			if p.Filename == "" {
				return nil, faults.New(faults.InputInvalid,
					"diff at line %d names no file", i+1)
			}
			cur = &p
			oldPath = ""

		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				return nil, faults.New(faults.InputInvalid,
					"hunk header before file header at line %d", i+1)
			}
			if err := closeHunk(); err != nil {
				return nil, err
			}
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, faults.New(faults.InputInvalid,
					"malformed hunk header at line %d: %q", i+1, line)
			}
			hunk = &Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewLines: atoiDefault(m[4], 1),
			}
			gotOld, gotNew = 0, 0

		default:
			// diff --git, index, mode lines, and blank separators.
		}
	}
	if err := closeFile(); err != nil {
		return nil, err
	}
	return patches, nil
}

func stripPathPrefix(p string) string {
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
