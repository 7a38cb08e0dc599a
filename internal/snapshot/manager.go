package snapshot

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/manifest"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/internal/storage"
	"github.com/arkilian/docrune/internal/wal"
	"github.com/arkilian/docrune/pkg/types"
)

// Source is the document store being exported or restored.
type Source interface {
	ScanAll() iter.Seq[*partition.Record]
	Freeze(fn func() error) error
	Apply(ctx context.Context, m wal.Mutation) error
	PartitionKeyPath() types.FieldPath
}

// Journal is the mutation journal. A snapshot covers every entry up to the
// journal's current LSN when it is taken.
type Journal interface {
	CurrentLSN() uint64
	Truncate(checkpointLSN uint64) (int, error)
}

// Catalog records the snapshots.
type Catalog interface {
	RecordSnapshot(ctx context.Context, rec manifest.SnapshotRecord) error
	LatestSnapshot(ctx context.Context) (*manifest.SnapshotRecord, error)
	ListSnapshots(ctx context.Context) ([]manifest.SnapshotRecord, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// Config configures a Manager.
type Config struct {
	// Container names the container; objects go under snapshots/<Container>/.
	Container string
	// WorkDir holds snapshot files while they are written or downloaded.
	WorkDir string
	Logger  *zap.Logger
}

// Manager exports and restores snapshots.
type Manager struct {
	cfg     Config
	source  Source
	journal Journal
	catalog Catalog
	storage storage.ObjectStorage
	logger  *zap.Logger
}

// NewManager creates a snapshot manager. journal may be nil when
// journaling is disabled; snapshots then carry LSN 0.
func NewManager(cfg Config, source Source, journal Journal, catalog Catalog, store storage.ObjectStorage) *Manager {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		source:  source,
		journal: journal,
		catalog: catalog,
		storage: store,
		logger:  cfg.Logger,
	}
}

// Prefix is the storage prefix holding this container's snapshots.
func (m *Manager) Prefix() string {
	return path.Join("snapshots", m.cfg.Container)
}

// Export writes the whole store to a snapshot, uploads it and records it in
// the catalog. Journal segments the snapshot covers are removed afterwards.
func (m *Manager) Export(ctx context.Context) (*manifest.SnapshotRecord, error) {
	start := time.Now()

	// Records are immutable, so holding writes off only while collecting
	// them is enough for a consistent cut.
	var recs []*partition.Record
	var lsn uint64
	err := m.source.Freeze(func() error {
		if m.journal != nil {
			lsn = m.journal.CurrentLSN()
		}
		for rec := range m.source.ScanAll() {
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: freeze: %w", err)
	}

	if err := os.MkdirAll(m.cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: work dir: %w", err)
	}
	id := uuid.NewString()
	local := filepath.Join(m.cfg.WorkDir, "export_"+id[:8]+".snap")
	defer os.Remove(local)

	w, err := Create(local, Header{
		Container:        m.cfg.Container,
		PartitionKeyPath: m.source.PartitionKeyPath().String(),
		LSN:              lsn,
		CreatedAt:        start.UTC(),
	})
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		if i%1024 == 0 && ctx.Err() != nil {
			w.Close()
			return nil, ctx.Err()
		}
		if err := w.Add(rec.Doc); err != nil {
			w.Close()
			return nil, err
		}
	}
	footer, err := w.Close()
	if err != nil {
		return nil, err
	}

	if err := Validate(local, footer).Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(local)
	if err != nil {
		return nil, fmt.Errorf("snapshot: stat: %w", err)
	}
	objectPath := path.Join(m.Prefix(), fmt.Sprintf("%020d-%s.snap", lsn, id))
	if _, err := m.storage.Upload(ctx, local, objectPath); err != nil {
		return nil, fmt.Errorf("snapshot: upload: %w", err)
	}

	rec := manifest.SnapshotRecord{
		SnapshotID:    id,
		ObjectPath:    objectPath,
		LSN:           lsn,
		DocumentCount: footer.Documents,
		SizeBytes:     info.Size(),
		CreatedAt:     start,
	}
	if err := m.catalog.RecordSnapshot(ctx, rec); err != nil {
		return nil, fmt.Errorf("snapshot: record: %w", err)
	}

	if m.journal != nil {
		removed, err := m.journal.Truncate(lsn)
		if err != nil {
			m.logger.Warn("journal truncation after snapshot failed", zap.Error(err))
		} else if removed > 0 {
			m.logger.Debug("journal segments removed", zap.Int("segments", removed))
		}
	}

	m.logger.Info("snapshot exported",
		zap.String("snapshot_id", id),
		zap.String("object", objectPath),
		zap.Uint64("lsn", lsn),
		zap.Int64("documents", footer.Documents),
		zap.Int64("bytes", info.Size()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &rec, nil
}

// Restore loads the latest snapshot into the store and returns its LSN.
// It returns 0 and does nothing when no snapshot exists. The store should
// be empty and have no journal installed.
func (m *Manager) Restore(ctx context.Context) (uint64, error) {
	latest, err := m.catalog.LatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	start := time.Now()

	if err := os.MkdirAll(m.cfg.WorkDir, 0755); err != nil {
		return 0, fmt.Errorf("snapshot: work dir: %w", err)
	}
	local := filepath.Join(m.cfg.WorkDir, "restore_"+latest.SnapshotID[:min(8, len(latest.SnapshotID))]+".snap")
	defer os.Remove(local)
	if err := m.storage.Download(ctx, latest.ObjectPath, local); err != nil {
		return 0, fmt.Errorf("snapshot: download %s: %w", latest.ObjectPath, err)
	}

	pkPath := m.source.PartitionKeyPath().String()
	checkHeader := func(h Header) error {
		if h.PartitionKeyPath != pkPath {
			return fmt.Errorf("snapshot: taken with partition key %s, container uses %s", h.PartitionKeyPath, pkPath)
		}
		return nil
	}
	h, footer, err := Read(local, checkHeader, func(doc types.Document) error {
		id, _ := doc.ID()
		return m.source.Apply(ctx, wal.Mutation{Op: wal.OpInsert, ID: id, Document: doc})
	})
	if err != nil {
		return 0, fmt.Errorf("snapshot: restore %s: %w", latest.SnapshotID, err)
	}

	m.logger.Info("snapshot restored",
		zap.String("snapshot_id", latest.SnapshotID),
		zap.Uint64("lsn", h.LSN),
		zap.Int64("documents", footer.Documents),
		zap.Duration("elapsed", time.Since(start)),
	)
	return h.LSN, nil
}
