package manifest

import "context"

// CatalogReader is the read-only view used at startup and by reconciliation.
type CatalogReader interface {
	// LoadContainer returns the saved container settings, or nil.
	LoadContainer(ctx context.Context, name string) (*ContainerRecord, error)

	// ListIndexes returns the persisted index definitions.
	ListIndexes(ctx context.Context) ([]IndexRecord, error)

	// LatestSnapshot returns the newest snapshot, or nil.
	LatestSnapshot(ctx context.Context) (*SnapshotRecord, error)

	// ListSnapshots returns every recorded snapshot.
	ListSnapshots(ctx context.Context) ([]SnapshotRecord, error)
}
