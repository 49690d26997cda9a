package diff

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"forgefix/internal/faults"
)

// applyCase exercises the full life of a patch: compute, apply forward,
// reverse, apply backward.
type applyCase struct {
	name string
	old  string
	new  string
}

func applyCases() []applyCase {
	return []applyCase{
		{"modify middle", "a\nb\nc", "a\nB\nc"},
		{"insert top", "b\nc", "a\nb\nc"},
		{"append bottom", "a\nb", "a\nb\nc"},
		{"delete end", "a\nb\nc", "a\nb"},
		{"replace all", "x", "y"},
		{"add trailing newline", "a\nb", "a\nb\n"},
		{"drop trailing newline", "a\nb\n", "a\nb"},
		{"new file", "", "fresh\ncontent\n"},
		{"delete file", "stale\ncontent", ""},
		{"far apart changes",
			"l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10\nl11\nl12\nl13\nl14\nl15",
			"l1\nl2\nX3\nl4\nl5\nl6\nl7\nl8\nl9\nl10\nl11\nl12\nX13\nl14\nl15"},
		{"blank lines", "a\n\nb", "a\n\n\nb"},
	}
}

func TestApply_RoundTrip(t *testing.T) {
	engine := NewEngine(3)
	for _, tc := range applyCases() {
		t.Run(tc.name, func(t *testing.T) {
			patch := engine.Compute("file.txt", tc.old, tc.new)

			applied, err := Apply(tc.old, patch)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if applied != tc.new {
				t.Fatalf("Apply produced %q, want %q", applied, tc.new)
			}

			reverted, err := Apply(applied, Reverse(patch))
			if err != nil {
				t.Fatalf("Apply of reversed patch failed: %v", err)
			}
			if reverted != tc.old {
				t.Fatalf("Reverse did not restore original: got %q, want %q", reverted, tc.old)
			}
		})
	}
}

func TestReverse_Involution(t *testing.T) {
	engine := NewEngine(3)
	for _, tc := range applyCases() {
		patch := engine.Compute("file.txt", tc.old, tc.new)
		twice := Reverse(Reverse(patch))
		if diff := cmp.Diff(patch, twice); diff != "" {
			t.Errorf("%s: Reverse(Reverse(p)) differs from p:\n%s", tc.name, diff)
		}
	}
}

func TestReverse_SwapsCreationAndDeletion(t *testing.T) {
	engine := NewEngine(3)

	created := engine.Compute("new.txt", "", "content")
	rev := Reverse(created)
	if !rev.IsDeleted || rev.IsNew {
		t.Errorf("Reverse of creation should be deletion, got isNew=%v isDeleted=%v", rev.IsNew, rev.IsDeleted)
	}

	deleted := engine.Compute("old.txt", "content", "")
	rev = Reverse(deleted)
	if !rev.IsNew || rev.IsDeleted {
		t.Errorf("Reverse of deletion should be creation, got isNew=%v isDeleted=%v", rev.IsNew, rev.IsDeleted)
	}
}

func TestApply_EmptyPatch(t *testing.T) {
	original := "untouched\ncontent"
	got, err := Apply(original, Patch{Filename: "file.txt"})
	if err != nil {
		t.Fatalf("Apply of empty patch failed: %v", err)
	}
	if got != original {
		t.Errorf("Empty patch should leave content untouched, got %q", got)
	}
}

func TestApply_ConflictingContent(t *testing.T) {
	engine := NewEngine(3)
	patch := engine.Compute("file.txt", "a\nb\nc", "a\nX\nc")

	_, err := Apply("a\nQ\nc", patch)
	if err == nil {
		t.Fatal("Expected conflict applying patch to drifted content")
	}
	if !faults.IsKind(err, faults.ApplyConflict) {
		t.Errorf("Expected ApplyConflict, got %v", faults.KindOf(err))
	}

	_, err = Apply("short", patch)
	if err == nil {
		t.Fatal("Expected conflict applying patch past end of content")
	}
	if !faults.IsKind(err, faults.ApplyConflict) {
		t.Errorf("Expected ApplyConflict, got %v", faults.KindOf(err))
	}

	if Applies("a\nb\nc", patch) != true {
		t.Error("Patch should apply to its own base")
	}
	if Applies("a\nQ\nc", patch) != false {
		t.Error("Patch should not apply to drifted content")
	}
}

func TestFormat_ParseRoundTrip(t *testing.T) {
	engine := NewEngine(3)
	for _, tc := range applyCases() {
		t.Run(tc.name, func(t *testing.T) {
			patch := engine.Compute("dir/file.txt", tc.old, tc.new)

			parsed, err := Parse(Format(patch))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if diff := cmp.Diff(patch, parsed); diff != "" {
				t.Errorf("Parse(Format(p)) differs from p:\n%s", diff)
			}
		})
	}
}

func TestFormat_NewFileEnvelope(t *testing.T) {
	engine := NewEngine(3)
	patch := engine.Compute("new.txt", "", "hello\nworld")

	text := Format(patch)
	if !strings.HasPrefix(text, "--- /dev/null\n+++ b/new.txt\n") {
		t.Errorf("New-file diff should carry /dev/null old side, got:\n%s", text)
	}
	if !strings.Contains(text, "@@ -0,0 +1,2 @@") {
		t.Errorf("Expected hunk header -0,0 +1,2, got:\n%s", text)
	}
}

func TestFormat_DeletedFileEnvelope(t *testing.T) {
	engine := NewEngine(3)
	patch := engine.Compute("gone.txt", "hello\nworld", "")

	text := Format(patch)
	if !strings.HasPrefix(text, "--- a/gone.txt\n+++ /dev/null\n") {
		t.Errorf("Deleted-file diff should carry /dev/null new side, got:\n%s", text)
	}
}

func TestParseAll_MultiFile(t *testing.T) {
	engine := NewEngine(3)
	one := engine.Compute("a.txt", "old a", "new a")
	two := engine.Compute("b.txt", "", "created b")

	patches, err := ParseAll(FormatAll([]Patch{one, two}))
	if err != nil {
		t.Fatalf("ParseAll failed: %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("Expected 2 patches, got %d", len(patches))
	}
	if patches[0].Filename != "a.txt" || patches[1].Filename != "b.txt" {
		t.Errorf("Unexpected filenames: %q, %q", patches[0].Filename, patches[1].Filename)
	}
	if !patches[1].IsNew {
		t.Error("Second patch should be a creation")
	}
}

func TestParse_RejectsMultiFile(t *testing.T) {
	engine := NewEngine(3)
	one := engine.Compute("a.txt", "old", "new")
	two := engine.Compute("b.txt", "old", "newer")

	_, err := Parse(FormatAll([]Patch{one, two}))
	if err == nil {
		t.Fatal("Parse should reject multi-file diffs")
	}
	if !faults.IsKind(err, faults.InputInvalid) {
		t.Errorf("Expected InputInvalid, got %v", faults.KindOf(err))
	}
}

func TestParse_MalformedHunkHeader(t *testing.T) {
	_, err := Parse("--- a/f.txt\n+++ b/f.txt\n@@ -x +y @@\n")
	if err == nil {
		t.Fatal("Expected error for malformed hunk header")
	}
}

func TestParse_CountMismatch(t *testing.T) {
	_, err := Parse("--- a/f.txt\n+++ b/f.txt\n@@ -1,2 +1,2 @@\n context only")
	if err == nil {
		t.Fatal("Expected error for hunk declaring more lines than it carries")
	}
}

func TestParse_BodyLineResemblingHeader(t *testing.T) {
	// Removing a line that starts with "-- " renders as "--- ", which looks
	// exactly like a file header. Count-driven consumption keeps it body.
	engine := NewEngine(3)
	patch := engine.Compute("f.txt", "-- separator\nold", "fresh")

	parsed, err := Parse(Format(patch))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if diff := cmp.Diff(patch, parsed); diff != "" {
		t.Errorf("Body line resembling a header broke the parse:\n%s", diff)
	}
}

func TestParse_GitFraming(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/f.txt b/f.txt",
		"index 1234567..89abcde 100644",
		"--- a/f.txt",
		"+++ b/f.txt",
		"@@ -1,1 +1,1 @@",
		"-old",
		"+new",
		"",
	}, "\n")

	patch, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if patch.Filename != "f.txt" {
		t.Errorf("Expected filename f.txt, got %q", patch.Filename)
	}
	if len(patch.Hunks) != 1 || len(patch.Hunks[0].Lines) != 2 {
		t.Fatalf("Unexpected hunk shape: %+v", patch.Hunks)
	}
}
