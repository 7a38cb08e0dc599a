// Package schema validates documents against an optional JSON Schema
// attached to the container.
package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	docerrors "github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/pkg/types"
)

// Validator checks documents against a compiled JSON Schema.
type Validator struct {
	source string
	schema *gojsonschema.Schema
}

// Compile compiles a JSON Schema document.
func Compile(schemaJSON string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("schema: invalid json schema: %w", err)
	}
	return &Validator{source: schemaJSON, schema: schema}, nil
}

// LoadFile compiles the JSON Schema stored at path.
func LoadFile(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to read %s: %w", path, err)
	}
	return Compile(string(data))
}

// Source returns the schema text the validator was compiled from.
func (v *Validator) Source() string { return v.source }

// Validate reports a SCHEMA_VIOLATION error listing every failed rule.
func (v *Validator) Validate(doc types.Document) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc.ToMap()))
	if err != nil {
		return docerrors.Wrap(docerrors.ErrCategoryValidation, docerrors.CodeSchemaViolation, "schema validation failed", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return docerrors.NewValidationError(docerrors.CodeSchemaViolation,
		"document invalid against schema: "+strings.Join(msgs, "; ")).
		WithDetails(map[string]interface{}{"violations": msgs})
}
