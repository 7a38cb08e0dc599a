package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/observability"
)

// Daemon exports a snapshot every interval and then collects old ones.
type Daemon struct {
	manager  *Manager
	gc       *GarbageCollector
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a snapshot daemon.
func NewDaemon(manager *Manager, gc *GarbageCollector, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Daemon{manager: manager, gc: gc, interval: interval, logger: manager.logger}
}

// Start begins the snapshot loop. It runs until the context is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("snapshot: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})

	go d.run(ctx)
	return nil
}

// Stop stops the loop and waits for a running export to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce exports one snapshot and collects garbage.
func (d *Daemon) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := d.manager.Export(ctx); err != nil {
		observability.SnapshotsTotal.WithLabelValues("failed").Inc()
		d.logger.Error("snapshot export failed", zap.Error(err))
		return
	}
	observability.SnapshotsTotal.WithLabelValues("ok").Inc()
	if d.gc != nil {
		if _, err := d.gc.CollectGarbage(ctx); err != nil {
			d.logger.Warn("snapshot gc failed", zap.Error(err))
		}
	}
}
