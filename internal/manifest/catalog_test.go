package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkilian/docrune/internal/errors"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCatalog_ContainerRoundTrip(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	rec, err := catalog.LoadContainer(ctx, "FoodCollection")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no container before save, got %+v", rec)
	}

	want := ContainerRecord{
		Name:             "FoodCollection",
		Database:         "NutritionDatabase",
		PartitionKeyPath: "/foodGroup",
		IndexingMode:     "consistent",
		PhysicalRanges:   4,
	}
	if err := catalog.SaveContainer(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	want.PhysicalRanges = 8
	if err := catalog.SaveContainer(ctx, want); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := catalog.LoadContainer(ctx, "FoodCollection")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected container after save")
	}
	if got.PartitionKeyPath != "/foodGroup" || got.PhysicalRanges != 8 || got.Database != "NutritionDatabase" {
		t.Errorf("unexpected container: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("unexpected timestamps: created %v updated %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestCatalog_Indexes(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	for _, p := range []string{"foodGroup", "version"} {
		if err := catalog.SaveIndex(ctx, p, false); err != nil {
			t.Fatalf("save %s: %v", p, err)
		}
	}
	if err := catalog.SaveIndex(ctx, "tags[0].name", true); err != nil {
		t.Fatalf("save auto: %v", err)
	}
	// saving again updates in place
	if err := catalog.SaveIndex(ctx, "version", false); err != nil {
		t.Fatalf("resave: %v", err)
	}

	recs, err := catalog.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 indexes, got %d", len(recs))
	}
	if recs[0].Path != "foodGroup" || recs[2].Path != "tags[0].name" || !recs[2].Auto {
		t.Errorf("unexpected index records: %+v", recs)
	}

	if err := catalog.DeleteIndex(ctx, "version"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = catalog.DeleteIndex(ctx, "version")
	if errors.GetCode(err) != errors.CodeIndexNotFound {
		t.Fatalf("expected index not found, got %v", err)
	}
	recs, _ = catalog.ListIndexes(ctx)
	if len(recs) != 2 {
		t.Errorf("expected 2 indexes after delete, got %d", len(recs))
	}
}

func TestCatalog_Snapshots(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	latest, err := catalog.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no snapshot, got %+v", latest)
	}

	base := time.Unix(1760000000, 0)
	for i, lsn := range []uint64{10, 42, 7} {
		rec := SnapshotRecord{
			SnapshotID:    []string{"a", "b", "c"}[i],
			ObjectPath:    "snapshots/" + []string{"a", "b", "c"}[i] + ".snap",
			LSN:           lsn,
			DocumentCount: int64(i + 1),
			SizeBytes:     1024,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := catalog.RecordSnapshot(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.SnapshotID, err)
		}
	}

	latest, err = catalog.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.SnapshotID != "b" || latest.LSN != 42 {
		t.Fatalf("expected snapshot b at lsn 42, got %+v", latest)
	}

	all, err := catalog.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].SnapshotID != "c" || all[2].SnapshotID != "b" {
		t.Errorf("expected snapshots ordered by lsn, got %+v", all)
	}

	if err := catalog.DeleteSnapshot(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	latest, _ = catalog.LatestSnapshot(ctx)
	if latest == nil || latest.SnapshotID != "a" {
		t.Errorf("expected snapshot a after delete, got %+v", latest)
	}
}

func TestCatalog_DuplicateSnapshotPath(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	rec := SnapshotRecord{SnapshotID: "a", ObjectPath: "snapshots/x.snap", LSN: 1}
	if err := catalog.RecordSnapshot(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec.SnapshotID = "b"
	if err := catalog.RecordSnapshot(ctx, rec); err == nil {
		t.Fatal("expected an error for a second record on the same object")
	}
}

func TestCatalog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	catalog, err := NewCatalog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := catalog.SaveIndex(ctx, "description", true); err != nil {
		t.Fatalf("save: %v", err)
	}
	catalog.Close()

	catalog, err = NewCatalog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer catalog.Close()
	recs, err := catalog.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Path != "description" || !recs[0].Auto {
		t.Errorf("index definition not persisted: %+v", recs)
	}
}
