package manifest

import (
	"context"
	"testing"

	"github.com/arkilian/docrune/internal/index"
)

func TestSyncIndexes(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	// an earlier run created an index through the policy
	if err := catalog.SaveIndex(ctx, "manufacturerName", true); err != nil {
		t.Fatalf("save: %v", err)
	}

	mgr, err := index.NewManager(index.ModeConsistent, []string{"foodGroup", "manufacturerName"}, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := catalog.SaveIndex(ctx, "version", true); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := SyncIndexes(ctx, catalog, mgr, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(report.Recorded) != 1 || report.Recorded[0] != "foodGroup" {
		t.Errorf("expected foodGroup recorded, got %v", report.Recorded)
	}
	if len(report.Restored) != 1 || report.Restored[0] != "version" {
		t.Errorf("expected version restored, got %v", report.Restored)
	}

	var paths []string
	for _, info := range mgr.Indexes() {
		paths = append(paths, info.Path)
	}
	if len(paths) != 3 {
		t.Errorf("expected 3 live indexes, got %v", paths)
	}

	// a second sync changes nothing
	report, err = SyncIndexes(ctx, catalog, mgr, nil)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(report.Recorded)+len(report.Restored) != 0 {
		t.Errorf("expected no changes, got %+v", report)
	}
}

func TestSyncIndexes_IndexingDisabled(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	if err := catalog.SaveIndex(ctx, "version", false); err != nil {
		t.Fatalf("save: %v", err)
	}

	mgr, err := index.NewManager(index.ModeNone, nil, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	report, err := SyncIndexes(ctx, catalog, mgr, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(report.Restored) != 0 || len(mgr.Indexes()) != 0 {
		t.Errorf("nothing should be restored with indexing disabled: %+v", report)
	}
	recs, _ := catalog.ListIndexes(ctx)
	if len(recs) != 1 {
		t.Errorf("catalog must keep its definitions, got %d", len(recs))
	}
}
