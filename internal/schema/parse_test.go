package schema

import "testing"

func TestExtractJSON_Raw(t *testing.T) {
	out, err := ExtractJSON(`{"confidence": 0.9}`)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"confidence": 0.9}` {
		t.Errorf("out = %q", out)
	}
}

func TestExtractJSON_Fenced(t *testing.T) {
	input := "```json\n{\"confidence\": 0.9}\n```"
	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"confidence": 0.9}` {
		t.Errorf("out = %q", out)
	}
}

func TestExtractJSON_FenceWithoutLanguage(t *testing.T) {
	input := "```\n{\"a\": 1}\n```"
	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"a": 1}` {
		t.Errorf("out = %q", out)
	}
}

func TestExtractJSON_BuriedInProse(t *testing.T) {
	input := "Here is my analysis:\n\n```json\n{\"failureType\": \"auth\"}\n```\n\nLet me know if you need more."
	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"failureType": "auth"}` {
		t.Errorf("out = %q", out)
	}
}

func TestExtractJSON_BraceScan(t *testing.T) {
	input := `The result is {"a": {"b": "closing brace } inside string"}, "c": 2} trailing text`
	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"a": {"b": "closing brace } inside string"}, "c": 2}` {
		t.Errorf("out = %q", out)
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	if _, err := ExtractJSON("I could not produce JSON, sorry."); err == nil {
		t.Fatal("expected error for prose-only response")
	}
}

func TestExtractJSON_Unterminated(t *testing.T) {
	if _, err := ExtractJSON(`{"a": 1`); err == nil {
		t.Fatal("expected error for unterminated object")
	}
}

func TestParse(t *testing.T) {
	data, err := Parse("```json\n{\"confidence\": 0.75, \"fixFile\": \"ci.yml\"}\n```")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if data["confidence"] != 0.75 {
		t.Errorf("confidence = %v", data["confidence"])
	}
	if data["fixFile"] != "ci.yml" {
		t.Errorf("fixFile = %v", data["fixFile"])
	}
}

func TestSalvage(t *testing.T) {
	broken := `{"confidence": 0.8, "fixFile": "ci.yml", "explanation": "unterminated`
	out := Salvage(broken)
	if out["confidence"] != 0.8 {
		t.Errorf("confidence = %v", out["confidence"])
	}
	if out["fixFile"] != "ci.yml" {
		t.Errorf("fixFile = %v", out["fixFile"])
	}
	if _, ok := out["explanation"]; ok {
		t.Error("unterminated string should not be salvaged")
	}
}
