package manifest

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/docrune/internal/errors"
)

// Catalog manages container metadata in catalog.db.
type Catalog interface {
	CatalogReader

	// SaveContainer records the container settings, keeping the original
	// creation time on updates.
	SaveContainer(ctx context.Context, rec ContainerRecord) error

	// SaveIndex records an index definition. auto marks indexes created by
	// the index policy.
	SaveIndex(ctx context.Context, path string, auto bool) error

	// DeleteIndex removes an index definition.
	DeleteIndex(ctx context.Context, path string) error

	// RecordSnapshot registers an exported snapshot.
	RecordSnapshot(ctx context.Context, rec SnapshotRecord) error

	// DeleteSnapshot removes a snapshot record.
	DeleteSnapshot(ctx context.Context, snapshotID string) error

	// Close closes the catalog database connections.
	Close() error
}

// ContainerRecord holds the settings a container was created with. The
// partition key path cannot change once documents exist.
type ContainerRecord struct {
	Name             string
	Database         string
	PartitionKeyPath string
	IndexingMode     string
	PhysicalRanges   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IndexRecord is a persisted index definition.
type IndexRecord struct {
	Path      string
	Auto      bool
	CreatedAt time.Time
}

// SnapshotRecord describes one snapshot object in storage.
type SnapshotRecord struct {
	SnapshotID    string
	ObjectPath    string
	LSN           uint64
	DocumentCount int64
	SizeBytes     int64
	CreatedAt     time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	saveIndexStmt      *sql.Stmt
	recordSnapshotStmt *sql.Stmt
}

// NewCatalog opens or creates the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	// The schema must exist before the read-only pool can open the file.
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	catalog.saveIndexStmt, err = db.Prepare(`
		INSERT INTO index_definitions (path, auto, created_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET auto = excluded.auto`)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("manifest: failed to prepare index statement: %w", err)
	}
	catalog.recordSnapshotStmt, err = db.Prepare(`
		INSERT INTO snapshots (snapshot_id, object_path, lsn, document_count, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("manifest: failed to prepare snapshot statement: %w", err)
	}

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SaveContainer records the container settings.
func (c *SQLiteCatalog) SaveContainer(ctx context.Context, rec ContainerRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO containers (name, database_name, partition_key_path, indexing_mode, physical_ranges, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			database_name = excluded.database_name,
			partition_key_path = excluded.partition_key_path,
			indexing_mode = excluded.indexing_mode,
			physical_ranges = excluded.physical_ranges,
			updated_at = excluded.updated_at`,
		rec.Name, rec.Database, rec.PartitionKeyPath, rec.IndexingMode, rec.PhysicalRanges, now, now,
	)
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict, "failed to save container "+rec.Name, err)
	}
	return nil
}

// LoadContainer returns the settings of the named container, or nil when
// the container was never saved.
func (c *SQLiteCatalog) LoadContainer(ctx context.Context, name string) (*ContainerRecord, error) {
	var rec ContainerRecord
	var createdAt, updatedAt int64
	err := c.readDB.QueryRowContext(ctx, `
		SELECT name, database_name, partition_key_path, indexing_mode, physical_ranges, created_at, updated_at
		FROM containers WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.Database, &rec.PartitionKeyPath, &rec.IndexingMode, &rec.PhysicalRanges, &createdAt, &updatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to load container %s: %w", name, err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// SaveIndex records an index definition.
func (c *SQLiteCatalog) SaveIndex(ctx context.Context, path string, auto bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.saveIndexStmt.ExecContext(ctx, path, boolToInt(auto), time.Now().Unix()); err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict, "failed to save index "+path, err)
	}
	return nil
}

// DeleteIndex removes an index definition. It fails with an IndexNotFound
// catalog error when no definition exists for path.
func (c *SQLiteCatalog) DeleteIndex(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, "DELETE FROM index_definitions WHERE path = ?", path)
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict, "failed to delete index "+path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewCatalogError(errors.CodeIndexNotFound, "no index definition for "+path, nil)
	}
	return nil
}

// ListIndexes returns the index definitions in creation order.
func (c *SQLiteCatalog) ListIndexes(ctx context.Context) ([]IndexRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT path, auto, created_at FROM index_definitions ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list indexes: %w", err)
	}
	defer rows.Close()

	var out []IndexRecord
	for rows.Next() {
		var rec IndexRecord
		var auto int
		var createdAt int64
		if err := rows.Scan(&rec.Path, &auto, &createdAt); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan index: %w", err)
		}
		rec.Auto = auto != 0
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordSnapshot registers an exported snapshot.
func (c *SQLiteCatalog) RecordSnapshot(ctx context.Context, rec SnapshotRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := c.recordSnapshotStmt.ExecContext(ctx,
		rec.SnapshotID, rec.ObjectPath, int64(rec.LSN), rec.DocumentCount, rec.SizeBytes, rec.CreatedAt.Unix())
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict, "failed to record snapshot "+rec.SnapshotID, err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot record.
func (c *SQLiteCatalog) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM snapshots WHERE snapshot_id = ?", snapshotID); err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict, "failed to delete snapshot "+snapshotID, err)
	}
	return nil
}

// LatestSnapshot returns the snapshot with the highest LSN, or nil when no
// snapshot was recorded.
func (c *SQLiteCatalog) LatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := c.readDB.QueryRowContext(ctx, `
		SELECT snapshot_id, object_path, lsn, document_count, size_bytes, created_at
		FROM snapshots ORDER BY lsn DESC, created_at DESC LIMIT 1`)
	rec, err := scanSnapshot(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read latest snapshot: %w", err)
	}
	return rec, nil
}

// ListSnapshots returns every snapshot, oldest first.
func (c *SQLiteCatalog) ListSnapshots(ctx context.Context) ([]SnapshotRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT snapshot_id, object_path, lsn, document_count, size_bytes, created_at
		FROM snapshots ORDER BY lsn ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to scan snapshot: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var lsn, createdAt int64
	if err := row.Scan(&rec.SnapshotID, &rec.ObjectPath, &lsn, &rec.DocumentCount, &rec.SizeBytes, &createdAt); err != nil {
		return nil, err
	}
	rec.LSN = uint64(lsn)
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range []*sql.Stmt{c.saveIndexStmt, c.recordSnapshotStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if c.readDB != nil {
		c.readDB.Close()
	}
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
