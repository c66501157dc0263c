package schema

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the config field variants.
type Type string

const (
	TypeText     Type = "text"
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeFilePath Type = "filepath"
)

// FileMode selects the picker style for a filepath field.
type FileMode string

const (
	FileOpen   FileMode = "open"
	FileSave   FileMode = "save"
	FileFolder FileMode = "folder"
)

// Field describes one configurable parameter. Values are built through the
// typed constructors and the chaining setters; all of them take and return
// Field by value, so adding a field to a schema hands over an independent
// copy and the caller's value stays inert.
//
// The key is the stable identifier used in config payloads and host-side
// persistence; key uniqueness within a schema and default-within-bounds are
// caller responsibilities, not checked here.
type Field struct {
	typ   Type
	key   string
	label string
	hint  string

	// nil means no default. Holds string, int64, float64, or bool
	// depending on the variant.
	def any

	intMin, intMax, intStep int64
	fMin, fMax, fStep       float64
	mode                    FileMode
}

// Text creates a text field with no default.
func Text(key, label string) Field {
	return Field{typ: TypeText, key: key, label: label}
}

// Integer creates an integer field with inclusive bounds.
func Integer(key, label string, def, min, max int64) Field {
	return Field{typ: TypeInteger, key: key, label: label, def: def,
		intMin: min, intMax: max, intStep: 1}
}

// Float creates a float field with inclusive bounds.
func Float(key, label string, def, min, max float64) Field {
	return Field{typ: TypeFloat, key: key, label: label, def: def,
		fMin: min, fMax: max, fStep: 0.1}
}

// Boolean creates a boolean field.
func Boolean(key, label string, def bool) Field {
	return Field{typ: TypeBoolean, key: key, label: label, def: def}
}

// FilePath creates a file path field with no default path.
func FilePath(key, label string, mode FileMode) Field {
	return Field{typ: TypeFilePath, key: key, label: label, mode: mode}
}

// Default sets the default value. The value should match the variant
// (string for text and filepath); it is encoded as given.
func (f Field) Default(v any) Field {
	f.def = v
	return f
}

// Hint sets a short usage hint displayed alongside the field.
func (f Field) Hint(h string) Field {
	f.hint = h
	return f
}

// Step overrides the increment for integer fields.
func (f Field) Step(step int64) Field {
	if f.typ == TypeInteger {
		f.intStep = step
	}
	return f
}

// StepF overrides the increment for float fields.
func (f Field) StepF(step float64) Field {
	if f.typ == TypeFloat {
		f.fStep = step
	}
	return f
}

// Key returns the field's stable identifier.
func (f Field) Key() string { return f.key }

// Label returns the display label.
func (f Field) Label() string { return f.label }

// Type returns the variant tag.
func (f Field) Type() Type { return f.typ }

// DefaultValue returns the default, or nil when absent.
func (f Field) DefaultValue() any { return f.def }

// Bounds returns the inclusive min and max for integer fields.
func (f Field) Bounds() (min, max int64) { return f.intMin, f.intMax }

// BoundsF returns the inclusive min and max for float fields.
func (f Field) BoundsF() (min, max float64) { return f.fMin, f.fMax }

// Mode returns the file mode for filepath fields.
func (f Field) Mode() FileMode { return f.mode }

type fieldJSON struct {
	Type    Type     `json:"type"`
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Default any      `json:"default,omitempty"`
	Hint    string   `json:"hint,omitempty"`
	Min     any      `json:"min,omitempty"`
	Max     any      `json:"max,omitempty"`
	Step    any      `json:"step,omitempty"`
	Mode    FileMode `json:"mode,omitempty"`
}

// MarshalJSON encodes the field as a flat object tagged by "type". Bounds
// appear only for the bounded variants, the mode only for filepath.
func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{Type: f.typ, Key: f.key, Label: f.label, Default: f.def, Hint: f.hint}
	switch f.typ {
	case TypeInteger:
		out.Min, out.Max, out.Step = f.intMin, f.intMax, f.intStep
	case TypeFloat:
		out.Min, out.Max, out.Step = f.fMin, f.fMax, f.fStep
	case TypeFilePath:
		out.Mode = f.mode
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a field previously produced by MarshalJSON.
func (f *Field) UnmarshalJSON(data []byte) error {
	var in struct {
		Type    Type            `json:"type"`
		Key     string          `json:"key"`
		Label   string          `json:"label"`
		Default json.RawMessage `json:"default"`
		Hint    string          `json:"hint"`
		Min     json.Number     `json:"min"`
		Max     json.Number     `json:"max"`
		Step    json.Number     `json:"step"`
		Mode    FileMode        `json:"mode"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*f = Field{typ: in.Type, key: in.Key, label: in.Label, hint: in.Hint}
	switch in.Type {
	case TypeText, TypeFilePath:
		if len(in.Default) > 0 {
			var s string
			if err := json.Unmarshal(in.Default, &s); err != nil {
				return fmt.Errorf("field %q: default: %w", in.Key, err)
			}
			f.def = s
		}
		f.mode = in.Mode
	case TypeBoolean:
		if len(in.Default) > 0 {
			var b bool
			if err := json.Unmarshal(in.Default, &b); err != nil {
				return fmt.Errorf("field %q: default: %w", in.Key, err)
			}
			f.def = b
		}
	case TypeInteger:
		var err error
		if len(in.Default) > 0 {
			var d json.Number
			if err = json.Unmarshal(in.Default, &d); err == nil {
				f.def, err = d.Int64()
			}
		}
		if err == nil && in.Min != "" {
			f.intMin, err = in.Min.Int64()
		}
		if err == nil && in.Max != "" {
			f.intMax, err = in.Max.Int64()
		}
		if err == nil && in.Step != "" {
			f.intStep, err = in.Step.Int64()
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", in.Key, err)
		}
	case TypeFloat:
		var err error
		if len(in.Default) > 0 {
			var d json.Number
			if err = json.Unmarshal(in.Default, &d); err == nil {
				f.def, err = d.Float64()
			}
		}
		if err == nil && in.Min != "" {
			f.fMin, err = in.Min.Float64()
		}
		if err == nil && in.Max != "" {
			f.fMax, err = in.Max.Float64()
		}
		if err == nil && in.Step != "" {
			f.fStep, err = in.Step.Float64()
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", in.Key, err)
		}
	default:
		return fmt.Errorf("field %q: unknown type %q", in.Key, in.Type)
	}
	return nil
}
