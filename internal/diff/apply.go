package diff

import (
	"sort"

	"forgefix/internal/faults"
)

// Apply replays a patch against the original file content and returns the
// patched content. Hunks apply in descending NewStart order so the offsets of
// the remaining hunks stay valid. Each hunk removes its old-side lines at the
// hunk position and inserts its new-side lines; the old side must match the
// original exactly or Apply reports an ApplyConflict.
func Apply(original string, p Patch) (string, error) {
	if p.IsEmpty() {
		return original, nil
	}
	if p.IsNew {
		if original != "" {
			return "", faults.New(faults.ApplyConflict,
				"patch creates %s but target already has content", p.Filename)
		}
		var out []string
		for _, l := range p.Hunks[0].Lines {
			if l.Kind == LineAdd {
				out = append(out, l.Text)
			}
		}
		return joinLines(out), nil
	}

	lines := splitLines(original)

	hunks := make([]Hunk, len(p.Hunks))
	copy(hunks, p.Hunks)
	sort.SliceStable(hunks, func(i, j int) bool { return hunks[i].NewStart > hunks[j].NewStart })

	for _, h := range hunks {
		pos := h.OldStart - 1
		if h.OldLines == 0 {
			pos = h.OldStart
		}
		if pos < 0 || pos+h.OldLines > len(lines) {
			return "", faults.New(faults.ApplyConflict,
				"hunk at -%d,%d exceeds %s (%d lines)", h.OldStart, h.OldLines, p.Filename, len(lines))
		}

		oldSide := make([]string, 0, h.OldLines)
		newSide := make([]string, 0, h.NewLines)
		for _, l := range h.Lines {
			if l.Kind != LineAdd {
				oldSide = append(oldSide, l.Text)
			}
			if l.Kind != LineRemove {
				newSide = append(newSide, l.Text)
			}
		}
		for i, want := range oldSide {
			if lines[pos+i] != want {
				return "", faults.New(faults.ApplyConflict,
					"hunk at -%d,%d does not match %s line %d", h.OldStart, h.OldLines, p.Filename, pos+i+1)
			}
		}

		patched := make([]string, 0, len(lines)-h.OldLines+len(newSide))
		patched = append(patched, lines[:pos]...)
		patched = append(patched, newSide...)
		patched = append(patched, lines[pos+h.OldLines:]...)
		lines = patched
	}

	if p.IsDeleted {
		if len(lines) != 0 {
			return "", faults.New(faults.ApplyConflict,
				"patch deletes %s but leaves %d lines behind", p.Filename, len(lines))
		}
		return "", nil
	}
	return joinLines(lines), nil
}

// Applies reports whether the patch replays cleanly against the content.
func Applies(original string, p Patch) bool {
	_, err := Apply(original, p)
	return err == nil
}

// Reverse inverts a patch: adds become removes, the old and new sides swap,
// and creation becomes deletion. Applying the reversed patch to patched
// content restores the original.
func Reverse(p Patch) Patch {
	rev := Patch{
		Filename:  p.Filename,
		IsNew:     p.IsDeleted,
		IsDeleted: p.IsNew,
		Hunks:     make([]Hunk, len(p.Hunks)),
	}
	for i, h := range p.Hunks {
		rh := Hunk{
			OldStart: h.NewStart,
			OldLines: h.NewLines,
			NewStart: h.OldStart,
			NewLines: h.OldLines,
			Lines:    make([]Line, len(h.Lines)),
		}
		for j, l := range h.Lines {
			switch l.Kind {
			case LineAdd:
				rh.Lines[j] = Line{Kind: LineRemove, Text: l.Text}
			case LineRemove:
				rh.Lines[j] = Line{Kind: LineAdd, Text: l.Text}
			default:
				rh.Lines[j] = l
			}
		}
		rev.Hunks[i] = rh
	}
	return rev
}
