package funnel

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// manifestSchema is the contract externally authored manifest documents must
// satisfy before being served. A document that fails validation is treated
// as absent: validators must never interpret a broken manifest as "no
// required questions".
const manifestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["slug", "version", "steps"],
	"properties": {
		"slug": {"type": "string", "minLength": 1},
		"version": {"type": "integer", "minimum": 1},
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "questions"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"title": {"type": "string"},
					"questions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "key", "label", "required"],
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"key": {"type": "string", "minLength": 1},
								"label": {"type": "string"},
								"type": {"type": "string"},
								"required": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

var compiledManifestSchema = gojsonschema.NewStringLoader(manifestSchema)

// ValidateManifestDocument checks a raw manifest document against the
// manifest schema and returns a descriptive error on the first violation.
func ValidateManifestDocument(doc []byte) error {
	result, err := gojsonschema.Validate(compiledManifestSchema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate manifest document: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("manifest document invalid: %s", errs[0].String())
		}
		return fmt.Errorf("manifest document invalid")
	}
	return nil
}
