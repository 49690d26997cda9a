package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractJSON pulls a JSON object out of backend output. It accepts raw
// JSON, JSON inside a fenced markdown block, and JSON buried in surrounding
// prose. Returns an error when no balanced object can be found.
func ExtractJSON(text string) (string, error) {
	cleaned := strings.TrimSpace(text)

	// Fenced block first.
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	} else if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		rest := cleaned[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			cleaned = strings.TrimSpace(rest[:end])
		}
	}

	if strings.HasPrefix(cleaned, "{") && json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	// Brace scan: locate the first balanced object, respecting strings.
	start := strings.Index(cleaned, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := cleaned[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, nil
					}
					return "", fmt.Errorf("balanced braces but invalid JSON")
				}
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}

// Parse extracts and unmarshals a JSON object from backend output.
func Parse(text string) (map[string]interface{}, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return data, nil
}

var salvageValue = regexp.MustCompile(`"(\w+)"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?|true|false)`)

// Salvage extracts individually parseable scalar fields from text that
// failed a full parse. Best effort only; callers must not depend on it for
// correctness.
func Salvage(text string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, m := range salvageValue.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if _, exists := out[key]; exists {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(m[2]), &v); err == nil {
			out[key] = v
		}
	}
	return out
}
