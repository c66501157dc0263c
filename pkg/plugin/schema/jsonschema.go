package schema

import "encoding/json"

// ConfigSchema derives a JSON Schema document describing valid config
// payloads for s: one optional property per field, typed per variant, with
// numeric bounds carried over. Unknown keys stay allowed because the config
// contract ignores them.
//
// The host uses this with a JSON Schema validator to gate config documents
// before they reach the plugin.
func (s *Schema) ConfigSchema() (json.RawMessage, error) {
	props := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		var prop map[string]any
		switch f.typ {
		case TypeInteger:
			prop = map[string]any{
				"type":    "integer",
				"minimum": f.intMin,
				"maximum": f.intMax,
			}
		case TypeFloat:
			prop = map[string]any{
				"type":    "number",
				"minimum": f.fMin,
				"maximum": f.fMax,
			}
		case TypeBoolean:
			prop = map[string]any{"type": "boolean"}
		default: // text, filepath
			prop = map[string]any{"type": "string"}
		}
		props[f.key] = prop
	}

	return json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	})
}
