package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// extractionSchema describes the extracted_data column.
const extractionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["medication", "dosage", "refills", "patient_name", "date", "confidence"],
	"properties": {
		"medication":   {"type": "string", "minLength": 1},
		"dosage":       {"type": "string", "minLength": 1},
		"refills":      {"type": "integer", "minimum": 0},
		"patient_name": {"type": "string", "minLength": 1},
		"date":         {"type": "string", "minLength": 1},
		"confidence":   {"type": "number", "minimum": 0, "maximum": 1},
		"sources": {
			"type": ["object", "null"],
			"propertyNames": {"enum": ["medication", "dosage", "refills", "patient_name", "date"]},
			"additionalProperties": {"enum": ["labeled", "structural", "fallback"]}
		}
	}
}`

// Schema validates extracted JSON before it is stored.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles the extraction schema.
func CompileSchema() (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", bytes.NewReader([]byte(extractionSchema))); err != nil {
		return nil, eris.Wrap(err, "add schema")
	}
	s, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, eris.Wrap(err, "compile schema")
	}
	return &Schema{schema: s}, nil
}

// Validate checks data against the schema.
func (s *Schema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "unmarshal data")
	}
	if err := s.schema.Validate(v); err != nil {
		return eris.Wrap(err, "json does not match schema")
	}
	return nil
}
