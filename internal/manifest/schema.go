// Package manifest provides the catalog that records what must survive a
// restart: the container settings, index definitions, document schema
// versions and the snapshots exported to object storage.
package manifest

// Schema contains the SQL schema definitions for the catalog (catalog.db).

// CreateContainersTableSQL creates the container settings table. There is
// one row per served container.
const CreateContainersTableSQL = `
CREATE TABLE IF NOT EXISTS containers (
    name TEXT PRIMARY KEY,
    database_name TEXT NOT NULL,
    partition_key_path TEXT NOT NULL,
    indexing_mode TEXT NOT NULL,
    physical_ranges INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateIndexDefinitionsTableSQL creates the index definitions table.
// auto is 1 for indexes created by the index policy.
const CreateIndexDefinitionsTableSQL = `
CREATE TABLE IF NOT EXISTS index_definitions (
    path TEXT PRIMARY KEY,
    auto INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// CreateSnapshotsTableSQL creates the snapshot table. lsn is the last
// journal entry the snapshot includes; replay starts after it.
const CreateSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id TEXT PRIMARY KEY,
    object_path TEXT NOT NULL UNIQUE,
    lsn INTEGER NOT NULL,
    document_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateSnapshotsIndexesSQL creates the index used to find the latest snapshot.
var CreateSnapshotsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at, lsn)`,
}

// CreateSchemaVersionsTableSQL creates the document schema version table.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    schema_json TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateContainersTableSQL,
		CreateIndexDefinitionsTableSQL,
		CreateSnapshotsTableSQL,
	}
	stmts = append(stmts, CreateSnapshotsIndexesSQL...)
	stmts = append(stmts, CreateSchemaVersionsTableSQL)
	return stmts
}
