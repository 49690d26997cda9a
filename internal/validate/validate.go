// Package validate checks proposed patches before anything reaches the
// gate or the working tree. Validation is per-format: workflow YAML, JSON
// manifests, and source files each get their own checks, with tree-sitter
// backing the source-language parse. Nothing here writes files.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.uber.org/zap"

	"forgefix/internal/diff"
	"forgefix/internal/faults"
)

// FileResult is the verdict for one file.
type FileResult struct {
	Filename string   `json:"filename"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Fixes    []string `json:"fixes"`
}

// Valid reports whether the file passed without errors.
func (r FileResult) Valid() bool {
	return len(r.Errors) == 0
}

// IssueCount counts errors plus warnings.
func (r FileResult) IssueCount() int {
	return len(r.Errors) + len(r.Warnings)
}

func (r *FileResult) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *FileResult) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *FileResult) fix(hint string) {
	r.Fixes = append(r.Fixes, hint)
}

// Report aggregates the verdicts for a change set, worst file first.
type Report struct {
	Files         []FileResult `json:"files"`
	TotalErrors   int          `json:"totalErrors"`
	TotalWarnings int          `json:"totalWarnings"`
	Valid         bool         `json:"valid"`
}

// Validator dispatches per-extension checks. It owns one tree-sitter parser
// per grammar; Close releases them.
type Validator struct {
	tsParser     *sitter.Parser
	jsParser     *sitter.Parser
	pythonParser *sitter.Parser
	bashParser   *sitter.Parser
	logger       *zap.Logger
}

// New creates a validator with all grammars loaded.
func New(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		tsParser:     sitter.NewParser(),
		jsParser:     sitter.NewParser(),
		pythonParser: sitter.NewParser(),
		bashParser:   sitter.NewParser(),
		logger:       logger.Named("validate"),
	}
	v.tsParser.SetLanguage(typescript.GetLanguage())
	v.jsParser.SetLanguage(javascript.GetLanguage())
	v.pythonParser.SetLanguage(python.GetLanguage())
	v.bashParser.SetLanguage(bash.GetLanguage())
	return v
}

// Close releases the parsers.
func (v *Validator) Close() {
	v.tsParser.Close()
	v.jsParser.Close()
	v.pythonParser.Close()
	v.bashParser.Close()
}

// ValidateContent runs the format checks for one file.
func (v *Validator) ValidateContent(ctx context.Context, filename, content string) FileResult {
	result := FileResult{Filename: filename}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yml", ".yaml":
		v.checkYAML(&result, filename, content)
	case ".json":
		v.checkJSON(&result, filename, content)
	case ".ts", ".tsx":
		v.checkTreeSitter(ctx, &result, v.tsParser, content)
		checkBraceBalance(&result, content)
		checkTypeScriptHygiene(&result, content)
	case ".js", ".jsx", ".mjs", ".cjs":
		v.checkTreeSitter(ctx, &result, v.jsParser, content)
		checkBraceBalance(&result, content)
		checkTypeScriptHygiene(&result, content)
	case ".py":
		v.checkTreeSitter(ctx, &result, v.pythonParser, content)
		checkPython(&result, content)
	case ".sh", ".bash":
		v.checkTreeSitter(ctx, &result, v.bashParser, content)
		checkShell(&result, content)
	default:
		// No validator for this extension; treat as opaque.
	}
	return result
}

// ValidatePatch checks one patch: structural invariants first, then the
// simulated post-image content. The original content (empty for creates) is
// the caller's responsibility.
func (v *Validator) ValidatePatch(ctx context.Context, patch diff.Patch, original string) FileResult {
	result := FileResult{Filename: patch.Filename}
	checkStructure(&result, patch)
	if !result.Valid() {
		return result
	}

	if patch.IsDeleted {
		result.fix("file will be removed from the working tree")
		return result
	}

	postImage, err := diff.Apply(original, patch)
	if err != nil {
		if faults.IsKind(err, faults.ApplyConflict) {
			result.errorf("patch does not apply: %v", err)
		} else {
			result.errorf("patch simulation failed: %v", err)
		}
		return result
	}

	content := v.ValidateContent(ctx, patch.Filename, postImage)
	result.Errors = append(result.Errors, content.Errors...)
	result.Warnings = append(result.Warnings, content.Warnings...)
	result.Fixes = append(result.Fixes, content.Fixes...)
	return result
}

// ValidateAll validates a change set against its pre-image contents and
// aggregates a report, listing files by issue count.
func (v *Validator) ValidateAll(ctx context.Context, patches []diff.Patch, originals map[string]string) Report {
	report := Report{Valid: true}
	for _, p := range patches {
		result := v.ValidatePatch(ctx, p, originals[p.Filename])
		report.Files = append(report.Files, result)
		report.TotalErrors += len(result.Errors)
		report.TotalWarnings += len(result.Warnings)
		if !result.Valid() {
			report.Valid = false
		}
	}
	sort.SliceStable(report.Files, func(i, j int) bool {
		return report.Files[i].IssueCount() > report.Files[j].IssueCount()
	})

	v.logger.Debug("validation complete",
		zap.Int("files", len(report.Files)),
		zap.Int("errors", report.TotalErrors),
		zap.Int("warnings", report.TotalWarnings),
	)
	return report
}

// =============================================================================
// STRUCTURAL CHECKS
// =============================================================================

// checkStructure verifies the patch invariants: consistent hunk counts,
// create/delete shape, and non-overlapping ascending hunks.
func checkStructure(result *FileResult, p diff.Patch) {
	if p.Filename == "" {
		result.errorf("patch names no file")
	}
	if p.IsNew && p.IsDeleted {
		result.errorf("patch cannot both create and delete %s", p.Filename)
	}

	prevEnd := 0
	for i, h := range p.Hunks {
		gotOld, gotNew := 0, 0
		for _, l := range h.Lines {
			if l.Kind != diff.LineAdd {
				gotOld++
			}
			if l.Kind != diff.LineRemove {
				gotNew++
			}
		}
		if gotOld != h.OldLines || gotNew != h.NewLines {
			result.errorf("hunk %d declares %d/%d lines but carries %d/%d", i+1, h.OldLines, h.NewLines, gotOld, gotNew)
		}
		if h.OldStart < 0 || h.NewStart < 0 {
			result.errorf("hunk %d has negative start", i+1)
		}
		if h.OldLines > 0 {
			if h.OldStart <= prevEnd {
				result.errorf("hunk %d overlaps the previous hunk", i+1)
			}
			prevEnd = h.OldStart + h.OldLines - 1
		}
	}

	if p.IsNew {
		for _, h := range p.Hunks {
			if h.OldStart != 0 || h.OldLines != 0 {
				result.errorf("new-file patch must not reference old content")
				break
			}
		}
	}
	if p.IsDeleted {
		for _, h := range p.Hunks {
			if h.NewStart != 0 || h.NewLines != 0 {
				result.errorf("deleted-file patch must not add content")
				break
			}
		}
	}
}

// =============================================================================
// JSON
// =============================================================================

func (v *Validator) checkJSON(result *FileResult, filename, content string) {
	var parsed map[string]interface{}
	parseErr := json.Unmarshal([]byte(content), &parsed)

	if loc := findTrailingComma(content); loc > 0 {
		result.errorf("trailing comma at line %d", loc)
		result.fix("remove the trailing comma before the closing bracket")
	} else if parseErr != nil {
		result.errorf("invalid JSON: %v", parseErr)
	}

	if parseErr == nil && strings.EqualFold(filepath.Base(filename), "package.json") {
		if _, ok := parsed["name"]; !ok {
			result.errorf("package manifest missing \"name\"")
			result.fix("add a \"name\" field to package.json")
		}
		if _, ok := parsed["version"]; !ok {
			result.errorf("package manifest missing \"version\"")
			result.fix("add a \"version\" field to package.json")
		}
	}
}

// findTrailingComma returns the line of the first trailing comma outside a
// string literal, or 0.
func findTrailingComma(content string) int {
	inString := false
	escaped := false
	line := 1
	for i := 0; i < len(content); i++ {
		c := content[i]
		if c == '\n' {
			line++
		}
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == ',' && !inString:
			j := i + 1
			for j < len(content) && (content[j] == ' ' || content[j] == '\t' || content[j] == '\n' || content[j] == '\r') {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				return line
			}
		}
	}
	return 0
}
