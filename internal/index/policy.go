package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/observability"
)

// Catalog persists index definitions so they survive restarts.
type Catalog interface {
	SaveIndex(ctx context.Context, path string, auto bool) error
}

// PolicyConfig controls automatic index creation.
type PolicyConfig struct {
	// CreateThreshold is how many unindexed uses a path needs before it is
	// indexed automatically.
	CreateThreshold int64
	CheckInterval   time.Duration
	MaxIndexes      int
}

// Policy creates indexes for paths that queries keep filtering or sorting
// on without an index.
type Policy struct {
	stats   *observability.QueryStats
	manager *Manager
	catalog Catalog
	cfg     PolicyConfig
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewPolicy creates a policy. catalog may be nil.
func NewPolicy(stats *observability.QueryStats, manager *Manager, catalog Catalog, cfg PolicyConfig, logger *zap.Logger) *Policy {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.CreateThreshold <= 0 {
		cfg.CreateThreshold = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{stats: stats, manager: manager, catalog: catalog, cfg: cfg, logger: logger}
}

// Run evaluates the policy every CheckInterval until ctx is cancelled.
func (p *Policy) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Evaluate(ctx); err != nil {
				p.logger.Warn("index policy evaluation failed", zap.Error(err))
			}
		}
	}
}

// Evaluate creates indexes for the paths that crossed the threshold and
// returns the paths it indexed.
func (p *Policy) Evaluate(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.manager.Mode() == ModeNone {
		return nil, nil
	}
	existing := len(p.manager.Indexes())
	budget := p.cfg.MaxIndexes - existing
	if p.cfg.MaxIndexes <= 0 {
		budget = 1 << 30
	}
	if budget <= 0 {
		return nil, nil
	}

	var created []string
	for _, rec := range p.stats.Recommendations(budget, p.cfg.CreateThreshold) {
		info, err := p.manager.CreateIndex(ctx, rec.Path)
		if errors.GetCode(err) == errors.CodeIndexExists {
			p.stats.Forget(rec.Path)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("index policy: create %s: %w", rec.Path, err)
		}
		if p.catalog != nil {
			if err := p.catalog.SaveIndex(ctx, info.Path, true); err != nil {
				return created, fmt.Errorf("index policy: save %s: %w", info.Path, err)
			}
		}
		p.stats.Forget(rec.Path)
		created = append(created, info.Path)
		p.logger.Info("index created by policy",
			zap.String("path", info.Path),
			zap.Int64("unindexed_uses", rec.Unindexed),
		)
	}
	return created, nil
}
