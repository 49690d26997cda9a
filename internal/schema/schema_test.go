package schema

import (
	"strings"
	"testing"
)

func fixSchema() *Schema {
	return &Schema{
		Name: "fixGenerator",
		Fields: []Field{
			{Name: "confidence", Type: TypeNumber, Required: true, Min: Float(0), Max: Float(1)},
			{Name: "fixFile", Type: TypeString, Required: true},
			{Name: "fixStartLine", Type: TypeInteger, Required: true},
			{Name: "fixContent", Type: TypeString, Required: true},
			{Name: "explanation", Type: TypeString, Required: true, MaxLen: 500},
			{Name: "testSuggestion", Type: TypeString},
		},
	}
}

func TestValidate_Conforming(t *testing.T) {
	data := map[string]interface{}{
		"confidence":   0.92,
		"fixFile":      ".github/workflows/ci.yml",
		"fixStartLine": float64(12),
		"fixContent":   "registry-url: https://registry.npmjs.org",
		"explanation":  "adds the registry to the setup step",
	}
	if v := fixSchema().Validate(data); v != nil {
		t.Errorf("conforming data produced violations: %v", v)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	v := fixSchema().Validate(map[string]interface{}{"confidence": 0.5})
	if len(v) == 0 {
		t.Fatal("missing fields not reported")
	}
	paths := make(map[string]bool)
	for _, violation := range v {
		paths[violation.Path] = true
	}
	for _, want := range []string{"fixFile", "fixStartLine", "fixContent", "explanation"} {
		if !paths[want] {
			t.Errorf("missing violation for %s: %v", want, v)
		}
	}
}

func TestValidate_RangeAndType(t *testing.T) {
	data := map[string]interface{}{
		"confidence":   1.7,
		"fixFile":      42,
		"fixStartLine": 3.5,
		"fixContent":   "x",
		"explanation":  "y",
	}
	v := fixSchema().Validate(data)
	byPath := make(map[string]string)
	for _, violation := range v {
		byPath[violation.Path] = violation.Message
	}
	if msg := byPath["confidence"]; !strings.Contains(msg, "above maximum") {
		t.Errorf("confidence violation = %q", msg)
	}
	if msg := byPath["fixFile"]; !strings.Contains(msg, "expected string") {
		t.Errorf("fixFile violation = %q", msg)
	}
	if msg := byPath["fixStartLine"]; !strings.Contains(msg, "expected integer") {
		t.Errorf("fixStartLine violation = %q", msg)
	}
}

func TestValidate_Enum(t *testing.T) {
	s := &Schema{Name: "logAnalyst", Fields: []Field{
		{Name: "failureType", Type: TypeString, Required: true,
			Enum: []string{"auth", "build", "test", "deploy", "network", "timeout", "env", "unknown"}},
	}}
	if v := s.Validate(map[string]interface{}{"failureType": "auth"}); v != nil {
		t.Errorf("valid enum rejected: %v", v)
	}
	v := s.Validate(map[string]interface{}{"failureType": "cosmic-rays"})
	if len(v) != 1 || !strings.Contains(v[0].Message, "not in") {
		t.Errorf("invalid enum accepted: %v", v)
	}
}

func TestValidate_ArrayConstraints(t *testing.T) {
	s := &Schema{Name: "logAnalyst", Fields: []Field{
		{Name: "contextLines", Type: TypeArray, ItemType: TypeString, MaxItems: 5},
	}}
	v := s.Validate(map[string]interface{}{
		"contextLines": []interface{}{"a", "b", "c", "d", "e", "f"},
	})
	if len(v) != 1 || !strings.Contains(v[0].Message, "exceeds maximum") {
		t.Errorf("over-length array accepted: %v", v)
	}
	v = s.Validate(map[string]interface{}{
		"contextLines": []interface{}{"a", float64(2)},
	})
	if len(v) != 1 || v[0].Path != "contextLines[1]" {
		t.Errorf("wrong item type not path-qualified: %v", v)
	}
}

func TestValidate_NestedObjectItems(t *testing.T) {
	s := &Schema{Name: "codeReviewer", Fields: []Field{
		{Name: "issuesFound", Type: TypeArray, ItemFields: []Field{
			{Name: "file", Type: TypeString, Required: true},
			{Name: "line", Type: TypeInteger, Required: true},
		}},
	}}
	v := s.Validate(map[string]interface{}{
		"issuesFound": []interface{}{
			map[string]interface{}{"file": "main.ts", "line": float64(3)},
			map[string]interface{}{"file": "util.ts"},
		},
	})
	if len(v) != 1 {
		t.Fatalf("violations = %v", v)
	}
	if v[0].Path != "issuesFound[1].line" {
		t.Errorf("path = %q, want issuesFound[1].line", v[0].Path)
	}
}

func TestValidate_OptionalAbsent(t *testing.T) {
	data := map[string]interface{}{
		"confidence":   0.5,
		"fixFile":      "a",
		"fixStartLine": float64(1),
		"fixContent":   "b",
		"explanation":  "c",
	}
	if v := fixSchema().Validate(data); v != nil {
		t.Errorf("absent optional field reported: %v", v)
	}
}

func TestViolationSummary(t *testing.T) {
	s := ViolationSummary([]Violation{
		{Path: "confidence", Message: "above maximum 1"},
		{Path: "fixFile", Message: "required field is missing"},
	})
	if !strings.Contains(s, "confidence: above maximum 1") || !strings.Contains(s, "; fixFile:") {
		t.Errorf("summary = %q", s)
	}
}
