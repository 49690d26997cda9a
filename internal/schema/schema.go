// Package schema enforces the structured response contracts of the expert
// agents. Validation returns path-qualified violations instead of failing on
// the first problem, so retry prompts can name everything that was wrong.
package schema

import (
	"fmt"
	"math"
	"strings"
)

// FieldType is the JSON type a field must carry.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one schema field and its constraints.
type Field struct {
	Name     string
	Type     FieldType
	Required bool

	// String constraints.
	MaxLen int
	Enum   []string

	// Numeric constraints.
	Min *float64
	Max *float64

	// Array constraints.
	MaxItems   int
	ItemType   FieldType
	ItemFields []Field

	// Object constraints.
	Fields []Field
}

// Schema is a named set of fields.
type Schema struct {
	Name   string
	Fields []Field
}

// Violation is one path-qualified contract breach.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// Validate checks data against the schema. A nil result means the data
// conforms. Unknown extra fields are tolerated.
func (s *Schema) Validate(data map[string]interface{}) []Violation {
	var violations []Violation
	for _, f := range s.Fields {
		violations = append(violations, validateField(f, f.Name, data)...)
	}
	return violations
}

// ViolationSummary renders violations as one line per breach, for correction
// directives and logs.
func ViolationSummary(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

func validateField(f Field, path string, data map[string]interface{}) []Violation {
	value, present := data[f.Name]
	if !present || value == nil {
		if f.Required {
			return []Violation{{Path: path, Message: "required field is missing"}}
		}
		return nil
	}
	return validateValue(f, path, value)
}

func validateValue(f Field, path string, value interface{}) []Violation {
	var violations []Violation

	switch f.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected string, got %T", value)}}
		}
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			violations = append(violations, Violation{Path: path,
				Message: fmt.Sprintf("length %d exceeds maximum %d", len(s), f.MaxLen)})
		}
		if len(f.Enum) > 0 && !inEnum(s, f.Enum) {
			violations = append(violations, Violation{Path: path,
				Message: fmt.Sprintf("value %q not in %v", s, f.Enum)})
		}

	case TypeNumber, TypeInteger:
		n, ok := value.(float64)
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected number, got %T", value)}}
		}
		if f.Type == TypeInteger && n != math.Trunc(n) {
			violations = append(violations, Violation{Path: path,
				Message: fmt.Sprintf("expected integer, got %v", n)})
		}
		if f.Min != nil && n < *f.Min {
			violations = append(violations, Violation{Path: path,
				Message: fmt.Sprintf("value %v below minimum %v", n, *f.Min)})
		}
		if f.Max != nil && n > *f.Max {
			violations = append(violations, Violation{Path: path,
				Message: fmt.Sprintf("value %v above maximum %v", n, *f.Max)})
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected boolean, got %T", value)}}
		}

	case TypeArray:
		arr, ok := value.([]interface{})
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected array, got %T", value)}}
		}
		if f.MaxItems > 0 && len(arr) > f.MaxItems {
			violations = append(violations, Violation{Path: path,
				Message: fmt.Sprintf("%d items exceeds maximum %d", len(arr), f.MaxItems)})
		}
		for i, item := range arr {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if len(f.ItemFields) > 0 {
				obj, ok := item.(map[string]interface{})
				if !ok {
					violations = append(violations, Violation{Path: itemPath,
						Message: fmt.Sprintf("expected object, got %T", item)})
					continue
				}
				for _, sub := range f.ItemFields {
					violations = append(violations, validateField(sub, itemPath+"."+sub.Name, obj)...)
				}
			} else if f.ItemType != "" {
				violations = append(violations, validateValue(Field{Name: f.Name, Type: f.ItemType}, itemPath, item)...)
			}
		}

	case TypeObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return []Violation{{Path: path, Message: fmt.Sprintf("expected object, got %T", value)}}
		}
		for _, sub := range f.Fields {
			violations = append(violations, validateField(sub, path+"."+sub.Name, obj)...)
		}
	}

	return violations
}

func inEnum(s string, enum []string) bool {
	for _, e := range enum {
		if s == e {
			return true
		}
	}
	return false
}

// Float returns a pointer for Min/Max constraint literals.
func Float(v float64) *float64 {
	return &v
}
