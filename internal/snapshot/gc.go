package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/storage"
)

// GarbageCollector removes all but the newest snapshots.
type GarbageCollector struct {
	catalog Catalog
	storage storage.ObjectStorage
	retain  int
	logger  *zap.Logger
}

// NewGarbageCollector creates a collector keeping the newest retain
// snapshots.
func NewGarbageCollector(catalog Catalog, store storage.ObjectStorage, retain int, logger *zap.Logger) *GarbageCollector {
	if retain < 1 {
		retain = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GarbageCollector{catalog: catalog, storage: store, retain: retain, logger: logger}
}

// GCResult holds the outcome of a garbage collection run.
type GCResult struct {
	DeletedSnapshots []string
	Errors           []string
}

// CollectGarbage deletes the snapshots beyond the retention count, oldest
// first. The object is deleted before its catalog record, so a failure
// leaves a dangling record that reconciliation reports rather than an
// untracked object.
func (gc *GarbageCollector) CollectGarbage(ctx context.Context) (*GCResult, error) {
	result := &GCResult{}

	all, err := gc.catalog.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot/gc: failed to list snapshots: %w", err)
	}
	if len(all) <= gc.retain {
		return result, nil
	}

	for _, s := range all[:len(all)-gc.retain] {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := gc.storage.Delete(ctx, s.ObjectPath); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", s.SnapshotID, err))
			continue
		}
		if err := gc.catalog.DeleteSnapshot(ctx, s.SnapshotID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", s.SnapshotID, err))
			continue
		}
		result.DeletedSnapshots = append(result.DeletedSnapshots, s.SnapshotID)
	}

	if len(result.DeletedSnapshots) > 0 {
		gc.logger.Info("old snapshots deleted", zap.Int("count", len(result.DeletedSnapshots)))
	}
	if len(result.Errors) > 0 {
		gc.logger.Warn("snapshot gc encountered errors", zap.Strings("errors", result.Errors))
	}
	return result, nil
}

// Retain returns the number of snapshots kept.
func (gc *GarbageCollector) Retain() int {
	return gc.retain
}
