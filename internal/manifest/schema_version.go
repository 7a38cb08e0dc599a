package manifest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"
)

// SchemaVersionManager tracks the JSON Schema documents are validated
// against. Registering a schema that differs from the current one creates
// a new version.
type SchemaVersionManager struct {
	db *sql.DB
}

// NewSchemaVersionManager creates a new schema version manager using the catalog's database.
func NewSchemaVersionManager(catalog *SQLiteCatalog) *SchemaVersionManager {
	return &SchemaVersionManager{db: catalog.db}
}

// SchemaVersionRecord represents a stored schema version.
type SchemaVersionRecord struct {
	Version   int
	Schema    string
	CreatedAt time.Time
}

// GetCurrentVersion returns the latest schema version number.
// Returns 0 if no schema versions have been registered.
func (m *SchemaVersionManager) GetCurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_versions",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("schema_version: failed to get current version: %w", err)
	}
	return version, nil
}

// GetSchemaVersion retrieves a specific schema version record.
func (m *SchemaVersionManager) GetSchemaVersion(ctx context.Context, version int) (*SchemaVersionRecord, error) {
	var schema string
	var createdAtUnix int64

	err := m.db.QueryRowContext(ctx,
		"SELECT schema_json, created_at FROM schema_versions WHERE version = ?",
		version,
	).Scan(&schema, &createdAtUnix)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schema_version: version %d not found", version)
		}
		return nil, fmt.Errorf("schema_version: failed to get version %d: %w", version, err)
	}

	return &SchemaVersionRecord{
		Version:   version,
		Schema:    schema,
		CreatedAt: time.Unix(createdAtUnix, 0),
	}, nil
}

// RegisterSchema registers a JSON Schema. If it differs from the current
// version, ignoring formatting and key order, a new version is created.
// Otherwise the current version is returned.
func (m *SchemaVersionManager) RegisterSchema(ctx context.Context, schema string) (int, error) {
	canonical, err := canonicalJSON(schema)
	if err != nil {
		return 0, fmt.Errorf("schema_version: invalid schema: %w", err)
	}

	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return 0, err
	}

	if currentVersion > 0 {
		currentRecord, err := m.GetSchemaVersion(ctx, currentVersion)
		if err != nil {
			return 0, err
		}
		if current, err := canonicalJSON(currentRecord.Schema); err == nil && bytes.Equal(current, canonical) {
			return currentVersion, nil
		}
	}

	newVersion := currentVersion + 1
	_, err = m.db.ExecContext(ctx,
		"INSERT INTO schema_versions (version, schema_json, created_at) VALUES (?, ?, ?)",
		newVersion, string(canonical), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("schema_version: failed to insert version %d: %w", newVersion, err)
	}

	return newVersion, nil
}

// ListVersions returns all registered schema versions ordered by version number.
func (m *SchemaVersionManager) ListVersions(ctx context.Context) ([]SchemaVersionRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT version, schema_json, created_at FROM schema_versions ORDER BY version ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("schema_version: failed to list versions: %w", err)
	}
	defer rows.Close()

	var records []SchemaVersionRecord
	for rows.Next() {
		var rec SchemaVersionRecord
		var createdAtUnix int64
		if err := rows.Scan(&rec.Version, &rec.Schema, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("schema_version: failed to scan version: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema_version: error iterating versions: %w", err)
	}

	return records, nil
}

// GetPropertyDiff returns the top-level properties declared in newVersion
// but not in oldVersion, sorted by name.
func (m *SchemaVersionManager) GetPropertyDiff(ctx context.Context, oldVersion, newVersion int) ([]string, error) {
	oldRecord, err := m.GetSchemaVersion(ctx, oldVersion)
	if err != nil {
		return nil, err
	}
	newRecord, err := m.GetSchemaVersion(ctx, newVersion)
	if err != nil {
		return nil, err
	}

	oldProps, err := properties(oldRecord.Schema)
	if err != nil {
		return nil, err
	}
	newProps, err := properties(newRecord.Schema)
	if err != nil {
		return nil, err
	}

	var diff []string
	for name := range newProps {
		if _, ok := oldProps[name]; !ok {
			diff = append(diff, name)
		}
	}
	sort.Strings(diff)
	return diff, nil
}

func properties(schema string) (map[string]json.RawMessage, error) {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal([]byte(schema), &doc); err != nil {
		return nil, fmt.Errorf("schema_version: failed to parse schema: %w", err)
	}
	return doc.Properties, nil
}

// canonicalJSON re-encodes a JSON document so that equal documents compare
// byte for byte. encoding/json writes object keys sorted.
func canonicalJSON(s string) ([]byte, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
