package validate

import (
	"context"
	"strings"
	"testing"

	"forgefix/internal/diff"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v := New(nil)
	t.Cleanup(v.Close)
	return v
}

func hasFragment(issues []string, fragment string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, fragment) {
			return true
		}
	}
	return false
}

// =============================================================================
// YAML / WORKFLOW
// =============================================================================

const goodWorkflow = `name: CI
on: [push]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - run: npm test
`

func TestValidateContent_GoodWorkflow(t *testing.T) {
	v := newTestValidator(t)
	res := v.ValidateContent(context.Background(), ".github/workflows/ci.yml", goodWorkflow)

	if !res.Valid() {
		t.Fatalf("Expected valid workflow, got errors: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Expected no warnings, got: %v", res.Warnings)
	}
}

func TestValidateContent_WorkflowMissingSkeleton(t *testing.T) {
	v := newTestValidator(t)
	res := v.ValidateContent(context.Background(), ".github/workflows/ci.yml", "description: not a workflow\n")

	for _, fragment := range []string{"missing top-level name", "missing trigger", "missing jobs"} {
		if !hasFragment(res.Errors, fragment) {
			t.Errorf("Expected error containing %q, got: %v", fragment, res.Errors)
		}
	}
	if len(res.Fixes) == 0 {
		t.Error("Schema errors should suggest fixes")
	}
}

func TestValidateContent_WorkflowJobChecks(t *testing.T) {
	v := newTestValidator(t)

	missingRunner := `name: CI
on: [push]
jobs:
  build:
    steps:
      - run: make
`
	res := v.ValidateContent(context.Background(), ".github/workflows/ci.yml", missingRunner)
	if !hasFragment(res.Errors, `job "build" missing runs-on`) {
		t.Errorf("Expected missing runs-on error, got: %v", res.Errors)
	}

	stepWithoutCommand := `name: CI
on: [push]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: broken step
`
	res = v.ValidateContent(context.Background(), ".github/workflows/ci.yml", stepWithoutCommand)
	if !hasFragment(res.Errors, "neither uses nor run") {
		t.Errorf("Expected step command error, got: %v", res.Errors)
	}
}

func TestValidateContent_YAMLTextChecks(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateContent(context.Background(), "config.yml", "root:\n\tchild: 1\n")
	if !hasFragment(res.Errors, "tab indentation at line 2") {
		t.Errorf("Expected tab indentation error, got: %v", res.Errors)
	}

	res = v.ValidateContent(context.Background(), "config.yml", "root:\n   child: 1\n")
	if !hasFragment(res.Warnings, "not a multiple of 2") {
		t.Errorf("Expected indentation warning, got: %v", res.Warnings)
	}

	res = v.ValidateContent(context.Background(), "config.yml", "name: \"broken\n")
	if !hasFragment(res.Errors, "unmatched quote at line 1") {
		t.Errorf("Expected unmatched quote error, got: %v", res.Errors)
	}

	// Apostrophes in plain scalars are not quoted scalars.
	res = v.ValidateContent(context.Background(), "config.yml", "name: don't fail\n")
	if hasFragment(res.Errors, "unmatched quote") {
		t.Errorf("Apostrophe should not trigger quote error, got: %v", res.Errors)
	}
}

// =============================================================================
// JSON
// =============================================================================

func TestValidateContent_JSON(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateContent(context.Background(), "tsconfig.json", `{"strict": true}`)
	if !res.Valid() {
		t.Errorf("Expected valid JSON, got: %v", res.Errors)
	}

	res = v.ValidateContent(context.Background(), "tsconfig.json", `{"strict": true,}`)
	if !hasFragment(res.Errors, "trailing comma") {
		t.Errorf("Expected trailing comma error, got: %v", res.Errors)
	}

	res = v.ValidateContent(context.Background(), "tsconfig.json", `{"strict": `)
	if !hasFragment(res.Errors, "invalid JSON") {
		t.Errorf("Expected parse error, got: %v", res.Errors)
	}

	// A comma inside a string is not a trailing comma.
	res = v.ValidateContent(context.Background(), "data.json", `{"text": "a,}"}`)
	if !res.Valid() {
		t.Errorf("String content misread as trailing comma: %v", res.Errors)
	}
}

func TestValidateContent_PackageManifest(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateContent(context.Background(), "package.json", `{"name": "app"}`)
	if !hasFragment(res.Errors, `missing "version"`) {
		t.Errorf("Expected missing version error, got: %v", res.Errors)
	}

	res = v.ValidateContent(context.Background(), "package.json", `{"name": "app", "version": "1.0.0"}`)
	if !res.Valid() {
		t.Errorf("Expected valid manifest, got: %v", res.Errors)
	}
}

// =============================================================================
// SOURCE LANGUAGES
// =============================================================================

func TestValidateContent_TypeScript(t *testing.T) {
	v := newTestValidator(t)

	good := "export function add(a: number, b: number): number {\n  return a + b;\n}\n"
	res := v.ValidateContent(context.Background(), "src/math.ts", good)
	if !res.Valid() {
		t.Errorf("Expected valid TypeScript, got: %v", res.Errors)
	}

	broken := "export function add(a: number {\n  return a +\n"
	res = v.ValidateContent(context.Background(), "src/math.ts", broken)
	if res.Valid() {
		t.Error("Expected errors for broken TypeScript")
	}
}

func TestValidateContent_TypeScriptHygiene(t *testing.T) {
	v := newTestValidator(t)

	content := strings.Join([]string{
		"// @ts-ignore",
		"const x: any = load();",
		"var total = 0;",
		"",
	}, "\n")
	res := v.ValidateContent(context.Background(), "src/legacy.ts", content)

	if !res.Valid() {
		t.Fatalf("Hygiene findings must be warnings, got errors: %v", res.Errors)
	}
	for _, fragment := range []string{"type-escape directive", "explicit any", "legacy var"} {
		if !hasFragment(res.Warnings, fragment) {
			t.Errorf("Expected warning containing %q, got: %v", fragment, res.Warnings)
		}
	}
	if !hasFragment(res.Fixes, "let or const") {
		t.Errorf("Expected var fix hint, got: %v", res.Fixes)
	}
}

func TestValidateContent_Python(t *testing.T) {
	v := newTestValidator(t)

	good := "def handler(event):\n    return event\n"
	res := v.ValidateContent(context.Background(), "scripts/handler.py", good)
	if !res.Valid() || len(res.Warnings) != 0 {
		t.Errorf("Expected clean Python, got errors=%v warnings=%v", res.Errors, res.Warnings)
	}

	offGrid := "if ready:\n  go()\n"
	res = v.ValidateContent(context.Background(), "scripts/handler.py", offGrid)
	if !hasFragment(res.Warnings, "not a multiple of 4") {
		t.Errorf("Expected indentation warning, got: %v", res.Warnings)
	}

	missingColon := "def handler(event)\n    return event\n"
	res = v.ValidateContent(context.Background(), "scripts/handler.py", missingColon)
	if !hasFragment(res.Warnings, "missing colon") {
		t.Errorf("Expected colon warning, got: %v", res.Warnings)
	}
	if res.Valid() {
		t.Error("A def without a colon should fail the parse")
	}
}

func TestValidateContent_Shell(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateContent(context.Background(), "deploy.sh", "echo $TARGET\n")
	if !hasFragment(res.Warnings, "no shebang") {
		t.Errorf("Expected shebang warning, got: %v", res.Warnings)
	}
	if !hasFragment(res.Warnings, "unquoted variable $TARGET") {
		t.Errorf("Expected unquoted variable warning, got: %v", res.Warnings)
	}

	clean := "#!/usr/bin/env bash\necho \"$TARGET\"\n"
	res = v.ValidateContent(context.Background(), "deploy.sh", clean)
	if len(res.Warnings) != 0 {
		t.Errorf("Expected no warnings for quoted usage, got: %v", res.Warnings)
	}
}

func TestValidateContent_UnknownExtension(t *testing.T) {
	v := newTestValidator(t)
	res := v.ValidateContent(context.Background(), "README.md", "# anything goes {{{")
	if res.IssueCount() != 0 {
		t.Errorf("Unknown extensions are opaque, got: %v / %v", res.Errors, res.Warnings)
	}
}

// =============================================================================
// PATCH VALIDATION
// =============================================================================

func TestValidatePatch_Structure(t *testing.T) {
	v := newTestValidator(t)

	bad := diff.Patch{Filename: "a.json", Hunks: []diff.Hunk{{
		OldStart: 1, OldLines: 5, NewStart: 1, NewLines: 1,
		Lines: []diff.Line{{Kind: diff.LineContext, Text: "x"}},
	}}}
	res := v.ValidatePatch(context.Background(), bad, "x")
	if !hasFragment(res.Errors, "declares") {
		t.Errorf("Expected count mismatch error, got: %v", res.Errors)
	}

	overlapping := diff.Patch{Filename: "a.json", Hunks: []diff.Hunk{
		{OldStart: 1, OldLines: 2, NewStart: 1, NewLines: 2, Lines: []diff.Line{
			{Kind: diff.LineContext, Text: "a"}, {Kind: diff.LineContext, Text: "b"},
		}},
		{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1, Lines: []diff.Line{
			{Kind: diff.LineContext, Text: "b"},
		}},
	}}
	res = v.ValidatePatch(context.Background(), overlapping, "a\nb")
	if !hasFragment(res.Errors, "overlaps") {
		t.Errorf("Expected overlap error, got: %v", res.Errors)
	}
}

func TestValidatePatch_SimulatesPostImage(t *testing.T) {
	v := newTestValidator(t)
	engine := diff.NewEngine(3)

	original := `{"name": "app", "version": "1.0.0"}`
	patched := `{"name": "app"}`
	patch := engine.Compute("package.json", original, patched)

	res := v.ValidatePatch(context.Background(), patch, original)
	if !hasFragment(res.Errors, `missing "version"`) {
		t.Errorf("Post-image validation should catch the dropped version, got: %v", res.Errors)
	}
}

func TestValidatePatch_DoesNotApply(t *testing.T) {
	v := newTestValidator(t)
	engine := diff.NewEngine(3)

	patch := engine.Compute("config.json", `{"a": 1}`, `{"a": 2}`)
	res := v.ValidatePatch(context.Background(), patch, `{"a": 999}`)
	if !hasFragment(res.Errors, "does not apply") {
		t.Errorf("Expected apply conflict error, got: %v", res.Errors)
	}
}

func TestValidatePatch_Deletion(t *testing.T) {
	v := newTestValidator(t)
	engine := diff.NewEngine(3)

	patch := engine.Compute("old.json", `{"a": 1}`, "")
	res := v.ValidatePatch(context.Background(), patch, `{"a": 1}`)
	if !res.Valid() {
		t.Errorf("Deletions have no post-image to validate, got: %v", res.Errors)
	}
	if !hasFragment(res.Fixes, "removed") {
		t.Errorf("Deletion should note the removal, got: %v", res.Fixes)
	}
}

func TestValidateAll_ReportOrdering(t *testing.T) {
	v := newTestValidator(t)
	engine := diff.NewEngine(3)

	cleanOriginal := `{"name": "app", "version": "1.0.0"}`
	clean := engine.Compute("package.json", cleanOriginal, `{"name": "app", "version": "1.0.1"}`)

	messy := engine.Compute(".github/workflows/ci.yml", "", "description: nope\n")

	report := v.ValidateAll(context.Background(),
		[]diff.Patch{clean, messy},
		map[string]string{"package.json": cleanOriginal},
	)

	if report.Valid {
		t.Error("Report with schema errors must be invalid")
	}
	if len(report.Files) != 2 {
		t.Fatalf("Expected 2 file results, got %d", len(report.Files))
	}
	if report.Files[0].Filename != ".github/workflows/ci.yml" {
		t.Errorf("Worst file should sort first, got %q", report.Files[0].Filename)
	}
	if report.TotalErrors == 0 {
		t.Error("Expected non-zero total errors")
	}
}
