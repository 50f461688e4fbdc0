package structuring

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

// IdentityFields are the keys every identity-class extraction must carry.
var IdentityFields = []string{
	"name",
	"date_of_birth",
	"address",
}

// EducationFields are the keys every education-class extraction must carry.
// Holder name and date of birth are included so education documents can be
// cross-checked against identity documents. stated_percentage is separate
// from marks_value: a CGPA marksheet that also prints an overall percentage
// keeps both figures.
var EducationFields = []string{
	"name",
	"date_of_birth",
	"document_type",
	"qualification",
	"board",
	"stream",
	"year_of_passing",
	"institution_name",
	"marks_representation",
	"marks_value",
	"stated_percentage",
}

const identitySchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "date_of_birth", "address"],
  "properties": {
    "name": {"$ref": "#/$defs/field"},
    "date_of_birth": {"$ref": "#/$defs/field"},
    "address": {"$ref": "#/$defs/field"}
  },
  "$defs": {
    "field": {
      "type": "object",
      "additionalProperties": false,
      "required": ["value", "confidence"],
      "properties": {
        "value": {"type": ["string", "null"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

const educationSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": [
    "name", "date_of_birth", "document_type", "qualification", "board",
    "stream", "year_of_passing", "institution_name",
    "marks_representation", "marks_value", "stated_percentage"
  ],
  "properties": {
    "name": {"$ref": "#/$defs/field"},
    "date_of_birth": {"$ref": "#/$defs/field"},
    "document_type": {"$ref": "#/$defs/field"},
    "qualification": {"$ref": "#/$defs/field"},
    "board": {"$ref": "#/$defs/field"},
    "stream": {"$ref": "#/$defs/field"},
    "year_of_passing": {"$ref": "#/$defs/field"},
    "institution_name": {"$ref": "#/$defs/field"},
    "marks_representation": {"$ref": "#/$defs/field"},
    "marks_value": {"$ref": "#/$defs/field"},
    "stated_percentage": {"$ref": "#/$defs/field"}
  },
  "$defs": {
    "field": {
      "type": "object",
      "additionalProperties": false,
      "required": ["value", "confidence"],
      "properties": {
        "value": {"type": ["string", "null"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

var (
	identitySchema  = jsonschema.MustCompileString("identity.json", identitySchemaJSON)
	educationSchema = jsonschema.MustCompileString("education.json", educationSchemaJSON)
)

// SchemaFor returns the compiled schema and expected key set for a class.
func SchemaFor(class storage.SchemaClass) (*jsonschema.Schema, []string, error) {
	switch class {
	case storage.SchemaClassIdentity:
		return identitySchema, IdentityFields, nil
	case storage.SchemaClassEducation:
		return educationSchema, EducationFields, nil
	default:
		return nil, nil, fmt.Errorf("unknown schema class: %s", class)
	}
}
