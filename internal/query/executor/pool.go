package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// PoolConfig holds configuration for the range scan pool.
type PoolConfig struct {
	// Workers bounds how many physical ranges are scanned at once across
	// all queries (default: 10).
	Workers int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 10}
}

// scanPool runs range scans on a bounded set of goroutines shared by every
// query of one executor.
type scanPool struct {
	pool   *ants.Pool
	logger *zap.Logger
}

func newScanPool(cfg PoolConfig, logger *zap.Logger) (*scanPool, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	p, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v any) {
		logger.Error("range scan panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("executor: create scan pool: %w", err)
	}
	return &scanPool{pool: p, logger: logger}, nil
}

// runAll runs one task per index and waits for all of them. A task that
// cannot be scheduled because ctx ended is skipped; the first scheduling
// error is returned.
func (p *scanPool) runAll(ctx context.Context, n int, task func(i int)) error {
	var wg sync.WaitGroup
	var submitErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		i := i
		err := p.pool.Submit(func() {
			defer wg.Done()
			task(i)
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("executor: schedule range scan: %w", err)
			break
		}
	}
	wg.Wait()
	return submitErr
}

// Running returns the number of busy workers.
func (p *scanPool) Running() int { return p.pool.Running() }

func (p *scanPool) close() {
	p.pool.Release()
}
