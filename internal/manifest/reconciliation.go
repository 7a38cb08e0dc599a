package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/arkilian/docrune/internal/storage"
)

// ReconciliationReport contains the results of a catalog-storage reconciliation.
type ReconciliationReport struct {
	// DanglingEntries are snapshot records whose object does not exist in storage.
	DanglingEntries []DanglingEntry
	// OrphanedObjects are storage objects with no snapshot record.
	OrphanedObjects []string
	// TotalCatalogEntries is the number of snapshot records checked.
	TotalCatalogEntries int
	// TotalStorageObjects is the number of storage objects scanned.
	TotalStorageObjects int
	RunAt               time.Time
}

// DanglingEntry is a snapshot record pointing to a missing storage object.
type DanglingEntry struct {
	SnapshotID string
	ObjectPath string
}

// HasIssues returns true if the report contains any dangling entries or orphaned objects.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.DanglingEntries) > 0 || len(r.OrphanedObjects) > 0
}

// Reconcile checks the snapshot records against object storage. It finds
// records whose object is gone and objects under prefix that no record
// refers to. It only reports; nothing is deleted.
func Reconcile(ctx context.Context, catalog CatalogReader, store storage.ObjectStorage, prefix string) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		RunAt: time.Now(),
	}

	snapshots, err := catalog.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list snapshots: %w", err)
	}
	report.TotalCatalogEntries = len(snapshots)

	tracked := make(map[string]string, len(snapshots)) // object_path -> snapshot_id
	for _, s := range snapshots {
		tracked[s.ObjectPath] = s.SnapshotID
	}

	for _, s := range snapshots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exists, err := store.Exists(ctx, s.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("reconciliation: failed to check object %s: %w", s.ObjectPath, err)
		}
		if !exists {
			report.DanglingEntries = append(report.DanglingEntries, DanglingEntry{
				SnapshotID: s.SnapshotID,
				ObjectPath: s.ObjectPath,
			})
		}
	}

	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list storage objects: %w", err)
	}
	report.TotalStorageObjects = len(objects)

	for _, obj := range objects {
		if _, ok := tracked[obj]; !ok {
			report.OrphanedObjects = append(report.OrphanedObjects, obj)
		}
	}

	return report, nil
}
