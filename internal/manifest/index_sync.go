package manifest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/index"
)

// IndexManager is the part of the index manager SyncIndexes drives.
type IndexManager interface {
	Indexes() []index.Info
	CreateIndex(ctx context.Context, raw string) (index.Info, error)
}

// SyncReport lists what SyncIndexes changed.
type SyncReport struct {
	// Recorded are configured indexes that were missing from the catalog.
	Recorded []string
	// Restored are catalog indexes that were rebuilt in the manager.
	Restored []string
}

// SyncIndexes makes the catalog and the index manager agree at startup.
// Indexes the manager was configured with are recorded; indexes recorded
// by an earlier run, including those the policy created, are rebuilt.
// When indexing is disabled the catalog is left as it is.
func SyncIndexes(ctx context.Context, catalog Catalog, manager IndexManager, logger *zap.Logger) (*SyncReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := &SyncReport{}

	records, err := catalog.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	inCatalog := make(map[string]bool, len(records))
	for _, rec := range records {
		inCatalog[rec.Path] = true
	}

	live := make(map[string]bool)
	for _, info := range manager.Indexes() {
		live[info.Path] = true
		if inCatalog[info.Path] {
			continue
		}
		if err := catalog.SaveIndex(ctx, info.Path, false); err != nil {
			return report, fmt.Errorf("index sync: record %s: %w", info.Path, err)
		}
		report.Recorded = append(report.Recorded, info.Path)
	}

	for _, rec := range records {
		if live[rec.Path] {
			continue
		}
		info, err := manager.CreateIndex(ctx, rec.Path)
		switch {
		case err == nil:
		case errors.GetCode(err) == errors.CodeIndexExists:
			continue
		case errors.GetCode(err) == errors.CodeIndexNotFound:
			logger.Warn("indexing disabled, catalog indexes not restored", zap.Int("indexes", len(records)))
			return report, nil
		default:
			return report, fmt.Errorf("index sync: restore %s: %w", rec.Path, err)
		}
		report.Restored = append(report.Restored, info.Path)
		logger.Info("index restored from catalog", zap.String("path", info.Path), zap.Bool("auto", rec.Auto))
	}
	return report, nil
}
