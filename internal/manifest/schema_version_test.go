package manifest

import (
	"context"
	"testing"
)

const foodSchemaV1 = `{
  "type": "object",
  "required": ["id", "foodGroup"],
  "properties": {"id": {"type": "string"}, "foodGroup": {"type": "string"}}
}`

// same schema, different key order and whitespace
const foodSchemaV1Reordered = `{"properties":{"foodGroup":{"type":"string"},"id":{"type":"string"}},"required":["id","foodGroup"],"type":"object"}`

const foodSchemaV2 = `{
  "type": "object",
  "required": ["id", "foodGroup"],
  "properties": {
    "id": {"type": "string"},
    "foodGroup": {"type": "string"},
    "version": {"type": "number"},
    "tags": {"type": "array"}
  }
}`

func TestSchemaVersion_Register(t *testing.T) {
	catalog := newTestCatalog(t)
	mgr := NewSchemaVersionManager(catalog)
	ctx := context.Background()

	v, err := mgr.GetCurrentVersion(ctx)
	if err != nil || v != 0 {
		t.Fatalf("expected version 0, got %d (%v)", v, err)
	}

	v1, err := mgr.RegisterSchema(ctx, foodSchemaV1)
	if err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if v1 != 1 {
		t.Fatalf("expected version 1, got %d", v1)
	}

	again, err := mgr.RegisterSchema(ctx, foodSchemaV1Reordered)
	if err != nil {
		t.Fatalf("register reordered: %v", err)
	}
	if again != 1 {
		t.Errorf("an equivalent schema must not create a version, got %d", again)
	}

	v2, err := mgr.RegisterSchema(ctx, foodSchemaV2)
	if err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("expected version 2, got %d", v2)
	}

	versions, err := mgr.ListVersions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}

	diff, err := mgr.GetPropertyDiff(ctx, 1, 2)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diff) != 2 || diff[0] != "tags" || diff[1] != "version" {
		t.Errorf("expected [tags version], got %v", diff)
	}
}

func TestSchemaVersion_RejectsInvalidJSON(t *testing.T) {
	catalog := newTestCatalog(t)
	mgr := NewSchemaVersionManager(catalog)

	if _, err := mgr.RegisterSchema(context.Background(), `{"type":`); err == nil {
		t.Fatal("expected an error for malformed schema JSON")
	}
	if _, err := mgr.GetSchemaVersion(context.Background(), 3); err == nil {
		t.Fatal("expected an error for a missing version")
	}
}
