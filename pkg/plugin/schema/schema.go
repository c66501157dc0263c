// Package schema describes a plugin's configuration surface: an ordered
// collection of typed fields the host renders as a form and posts back as a
// JSON config document keyed by field key.
//
// Declaration order is display order. Serializing a schema is repeatable
// and non-destructive; an empty schema serializes to {"fields":[]}.
package schema

import "encoding/json"

// Schema is an ordered collection of config fields.
type Schema struct {
	fields []Field
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{}
}

// Add appends a field. The schema keeps its own copy of the value, so the
// argument cannot alias schema state afterward. Returns the schema for
// chaining.
func (s *Schema) Add(f Field) *Schema {
	s.fields = append(s.fields, f)
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns the fields in declaration order. The slice is a copy;
// mutating it does not affect the schema.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

type schemaJSON struct {
	Fields []Field `json:"fields"`
}

// MarshalJSON encodes the schema as {"fields":[...]} preserving insertion
// order. The schema remains valid and extendable afterward.
func (s *Schema) MarshalJSON() ([]byte, error) {
	fields := s.fields
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(schemaJSON{Fields: fields})
}

// UnmarshalJSON decodes a schema document produced by MarshalJSON.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var in schemaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.fields = in.Fields
	return nil
}
