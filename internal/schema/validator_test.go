package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	docerrors "github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/pkg/types"
)

const foodSchema = `{
  "type": "object",
  "required": ["id", "foodGroup"],
  "properties": {
    "id": {"type": "string"},
    "foodGroup": {"type": "string"},
    "version": {"type": "number", "minimum": 1}
  }
}`

func TestValidator(t *testing.T) {
	v, err := Compile(foodSchema)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ok := types.Document{"id": types.String("1"), "foodGroup": types.String("Sweets"), "version": types.Number(1)}
	if err := v.Validate(ok); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}

	bad := types.Document{"id": types.String("1"), "version": types.Number(0)}
	err = v.Validate(bad)
	if err == nil {
		t.Fatal("expected a schema violation")
	}
	var de *docerrors.DocError
	if !errors.As(err, &de) || de.Code != docerrors.CodeSchemaViolation {
		t.Fatalf("error = %v, want SCHEMA_VIOLATION", err)
	}
	if violations, _ := de.Details["violations"].([]string); len(violations) != 2 {
		t.Errorf("violations = %v, want 2 entries", de.Details["violations"])
	}
}

func TestCompileRejectsBadSchema(t *testing.T) {
	if _, err := Compile(`{"type": 12}`); err == nil {
		t.Error("expected compile error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "food.schema.json")
	if err := os.WriteFile(path, []byte(foodSchema), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if v.Source() != foodSchema {
		t.Error("source not retained")
	}
}
