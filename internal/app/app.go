// Package app wires the docrune components into one process.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/docrune/internal/api/grpc"
	httpapi "github.com/arkilian/docrune/internal/api/http"
	"github.com/arkilian/docrune/internal/config"
	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/logger"
	"github.com/arkilian/docrune/internal/manifest"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/internal/schema"
	"github.com/arkilian/docrune/internal/server"
	"github.com/arkilian/docrune/internal/snapshot"
	"github.com/arkilian/docrune/internal/storage"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/internal/wal"
)

// App holds every component of a running docrune instance.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	shutdown *server.ShutdownManager

	catalog   *manifest.SQLiteCatalog
	storage   storage.ObjectStorage
	store     *store.Store
	indexes   *index.Manager
	journal   *wal.WAL
	stats     *observability.QueryStats
	executor  *executor.Executor
	snapshots *snapshot.Manager
	daemon    *snapshot.Daemon

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr
	httpAddr   net.Addr

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and builds the logger. Nothing is opened until Start.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	observability.Register(registry)

	return &App{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		shutdown: server.NewShutdownManager(server.ShutdownConfig{Logger: log}),
	}, nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the document store. It is nil before Start.
func (a *App) Store() *store.Store { return a.store }

// Executor returns the query executor. It is nil before Start.
func (a *App) Executor() *executor.Executor { return a.executor }

// HTTPAddr returns the address the HTTP API listens on, or nil.
func (a *App) HTTPAddr() net.Addr { return a.httpAddr }

// GRPCAddr returns the address the gRPC API listens on, or nil.
func (a *App) GRPCAddr() net.Addr { return a.grpcAddr }

// Start opens the container, recovers its documents and starts the
// configured API surfaces and background loops.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app already running")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		cancel()
		a.shutdown.Shutdown(context.Background(), "startup failed")
		return err
	}

	a.startBackground(runCtx)

	if a.cfg.ShouldRunHTTP() {
		if err := a.startHTTP(); err != nil {
			cancel()
			a.shutdown.Shutdown(context.Background(), "startup failed")
			return err
		}
	}
	if a.cfg.ShouldRunGRPC() {
		if err := a.startGRPC(); err != nil {
			cancel()
			a.shutdown.Shutdown(context.Background(), "startup failed")
			return err
		}
	}

	a.running = true
	a.logger.Info("docrune started",
		zap.String("mode", string(a.cfg.Mode)),
		zap.String("container", a.cfg.Container.Name),
		zap.String("partition_key", a.cfg.Container.PartitionKeyPath),
		zap.Int64("documents", a.store.Count()),
	)
	return nil
}

// initSharedResources opens the catalog, storage, store, indexes and
// journal, then restores the last snapshot and replays the journal.
// Closers are registered as each resource opens, so a failure part way
// releases what was already opened.
func (a *App) initSharedResources(ctx context.Context) error {
	catalog, err := manifest.NewCatalog(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.catalog = catalog
	a.shutdown.RegisterCloser("catalog", catalog)

	if err := a.checkContainer(ctx); err != nil {
		return err
	}

	var validator store.Validator
	if a.cfg.Container.SchemaFile != "" {
		v, err := schema.LoadFile(a.cfg.Container.SchemaFile)
		if err != nil {
			return err
		}
		versions := manifest.NewSchemaVersionManager(catalog)
		version, err := versions.RegisterSchema(ctx, v.Source())
		if err != nil {
			return err
		}
		fields := []zap.Field{zap.String("file", a.cfg.Container.SchemaFile), zap.Int("version", version)}
		if version > 1 {
			if added, err := versions.GetPropertyDiff(ctx, version-1, version); err == nil && len(added) > 0 {
				fields = append(fields, zap.Strings("added_properties", added))
			}
		}
		a.logger.Info("document schema loaded", fields...)
		validator = v
	}

	pricing := pricingFrom(a.cfg.Cost)
	st, err := store.New(store.Options{
		PartitionKeyPath: a.cfg.Container.PartitionKeyPath,
		Pricing:          pricing,
		Validator:        validator,
		Logger:           a.logger.Named("store"),
	})
	if err != nil {
		return err
	}
	a.store = st

	ix, err := index.NewManager(index.Mode(a.cfg.Container.IndexingMode), a.cfg.Container.IncludedPaths, a.logger.Named("index"))
	if err != nil {
		return err
	}
	ix.Attach(st)
	st.SetIndexer(ix)
	a.indexes = ix

	report, err := manifest.SyncIndexes(ctx, catalog, ix, a.logger)
	if err != nil {
		return err
	}
	if len(report.Restored) > 0 {
		a.logger.Info("indexes restored from catalog", zap.Strings("paths", report.Restored))
	}

	if err := a.initStorage(ctx); err != nil {
		return err
	}

	if err := a.recover(ctx); err != nil {
		return err
	}
	a.reconcile(ctx)

	a.stats = observability.NewQueryStats(a.cfg.Container.AutoIndex.StatsWindow)
	exec, err := executor.New(st, ix, executor.Options{
		Pricing:     pricing,
		Concurrency: a.cfg.Query.Concurrency,
		PageSize:    a.cfg.Query.MaxItemCount,
		Ranges:      a.cfg.Container.PhysicalRanges,
		Stats:       a.stats,
		Logger:      a.logger.Named("query"),
	})
	if err != nil {
		return err
	}
	a.executor = exec
	a.shutdown.RegisterCloser("executor", server.CloserFunc(func() error {
		exec.Close()
		return nil
	}))
	return nil
}

// checkContainer refuses to open a catalog written for a different
// partition key, then records the current settings.
func (a *App) checkContainer(ctx context.Context) error {
	c := a.cfg.Container
	existing, err := a.catalog.LoadContainer(ctx, c.Name)
	if err != nil {
		return err
	}
	if existing != nil && existing.PartitionKeyPath != c.PartitionKeyPath {
		return fmt.Errorf("container %s was created with partition key %s, configured %s",
			c.Name, existing.PartitionKeyPath, c.PartitionKeyPath)
	}
	return a.catalog.SaveContainer(ctx, manifest.ContainerRecord{
		Name:             c.Name,
		Database:         c.Database,
		PartitionKeyPath: c.PartitionKeyPath,
		IndexingMode:     c.IndexingMode,
		PhysicalRanges:   c.PhysicalRanges,
	})
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Type {
	case "local":
		s, err := storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize local storage: %w", err)
		}
		a.storage = s
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3cfg.Endpoint = a.cfg.Storage.S3.Endpoint
			s3cfg.UsePathStyle = true
		}
		s, err := storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3cfg, a.logger.Named("s3"))
		if err != nil {
			return fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		a.storage = s
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	return nil
}

// recover loads the latest snapshot, replays the journal entries after it
// and only then installs the journal, so replayed writes are not logged
// twice.
func (a *App) recover(ctx context.Context) error {
	var journal snapshot.Journal
	if a.cfg.Journal.Enabled {
		w, err := wal.Open(wal.Options{
			Dir:            a.cfg.Journal.Dir,
			SyncEveryWrite: a.cfg.Journal.SyncEveryWrite,
			Logger:         a.logger.Named("wal"),
		})
		if err != nil {
			return err
		}
		a.journal = w
		a.shutdown.RegisterCloser("journal", w)
		journal = w
	}

	a.snapshots = snapshot.NewManager(snapshot.Config{
		Container: a.cfg.Container.Name,
		WorkDir:   filepath.Join(a.cfg.DataDir, "tmp"),
		Logger:    a.logger.Named("snapshot"),
	}, a.store, journal, a.catalog, a.storage)

	var lsn uint64
	if a.cfg.Snapshot.RestoreOnStart {
		restored, err := a.snapshots.Restore(ctx)
		if err != nil {
			return err
		}
		lsn = restored
	}

	if a.journal != nil {
		n, err := a.journal.Recover(ctx, lsn, func(e *wal.Entry) error {
			return a.store.Apply(ctx, e.Mutation)
		})
		if err != nil {
			return fmt.Errorf("journal replay failed: %w", err)
		}
		if n > 0 {
			a.logger.Info("journal replayed", zap.Int("entries", n), zap.Uint64("from_lsn", lsn))
		}
		a.store.SetJournal(a.journal)
	}
	return nil
}

// reconcile reports snapshot records without objects and objects without
// records. Problems are logged; startup continues.
func (a *App) reconcile(ctx context.Context) {
	report, err := manifest.Reconcile(ctx, a.catalog, a.storage, a.snapshots.Prefix())
	if err != nil {
		a.logger.Warn("snapshot reconciliation failed", zap.Error(err))
		return
	}
	if report.HasIssues() {
		a.logger.Warn("snapshot storage out of sync with catalog",
			zap.Int("dangling_records", len(report.DanglingEntries)),
			zap.Strings("orphaned_objects", report.OrphanedObjects),
		)
	}
}

// startBackground starts the journal syncer, the index policy and the
// snapshot daemon. They stop when ctx is cancelled.
func (a *App) startBackground(ctx context.Context) {
	if a.journal != nil && !a.cfg.Journal.SyncEveryWrite {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.journal.RunSyncer(ctx, time.Second)
		}()
	}

	if ai := a.cfg.Container.AutoIndex; ai.Enabled {
		policy := index.NewPolicy(a.stats, a.indexes, a.catalog, index.PolicyConfig{
			CreateThreshold: ai.CreateThreshold,
			CheckInterval:   ai.CheckInterval,
			MaxIndexes:      ai.MaxIndexes,
		}, a.logger.Named("autoindex"))
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			policy.Run(ctx)
		}()
	}

	if a.cfg.Snapshot.Enabled {
		gc := snapshot.NewGarbageCollector(a.catalog, a.storage, a.cfg.Snapshot.Retain, a.logger.Named("snapshot-gc"))
		a.daemon = snapshot.NewDaemon(a.snapshots, gc, a.cfg.Snapshot.Interval)
		if err := a.daemon.Start(ctx); err != nil {
			a.logger.Warn("snapshot daemon did not start", zap.Error(err))
			a.daemon = nil
		} else {
			a.shutdown.RegisterCloser("snapshot-daemon", server.CloserFunc(a.daemon.Stop))
		}
	}

	// background loops finish before the journal and catalog close
	a.shutdown.RegisterCloser("background", server.CloserFunc(func() error {
		a.cancel()
		a.wg.Wait()
		return nil
	}))
}

func (a *App) startHTTP() error {
	router := httpapi.NewRouter(httpapi.Deps{
		Executor:  a.executor,
		Store:     a.store,
		Indexes:   a.indexes,
		Catalog:   a.catalog,
		Stats:     a.stats,
		Snapshots: a.snapshots,
		Gatherer:  a.registry,
		Logger:    a.logger.Named("http"),
		Options: httpapi.Options{
			QueryTimeout:         a.cfg.Query.Timeout,
			MaxItemCount:         a.cfg.Query.MaxItemCount,
			MaxPageSize:          a.cfg.Query.MaxPageSize,
			PopulateIndexMetrics: a.cfg.Query.PopulateIndexMetrics,
			RateLimit:            a.cfg.HTTP.RateLimit,
			RateBurst:            a.cfg.HTTP.RateBurst,
		},
	})

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpAddr = lis.Addr()
	a.httpServer = &http.Server{
		Handler:      server.ShutdownMiddleware(a.shutdown)(router),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser(a.httpServer, 10*time.Second))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP API listening", zap.Stringer("addr", a.httpAddr))
		if err := a.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}
	a.grpcAddr = lis.Addr()

	svc := grpcapi.NewDocumentServer(a.executor, a.store, grpcapi.Options{
		QueryTimeout:         a.cfg.Query.Timeout,
		MaxItemCount:         a.cfg.Query.MaxItemCount,
		MaxPageSize:          a.cfg.Query.MaxPageSize,
		PopulateIndexMetrics: a.cfg.Query.PopulateIndexMetrics,
	})
	a.grpcServer = grpcapi.NewServer(svc, a.logger.Named("grpc"))
	a.shutdown.RegisterCloser("grpc", server.GRPCServerCloser(a.grpcServer, 10*time.Second))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC API listening", zap.Stringer("addr", a.grpcAddr))
		if err := a.grpcServer.Serve(lis); err != nil {
			a.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the servers down and releases every resource in reverse
// order of opening.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.logger.Info("docrune stopped")
	_ = a.logger.Sync()
	return err
}

// WaitForShutdown blocks until a signal arrives or ctx is done, then
// shuts down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	_ = a.logger.Sync()
	return err
}

func pricingFrom(c config.CostConfig) cost.Pricing {
	p := cost.Pricing{
		QueryBase:         c.QueryBase,
		PerDocumentRead:   c.PerDocumentRead,
		PerScanExamined:   c.PerScanExamined,
		PerIndexCandidate: c.PerIndexCandidate,
		PerIndexSeek:      c.PerIndexSeek,
		PointRead:         c.PointRead,
		WriteBase:         c.WriteBase,
		PerIndexWrite:     c.PerIndexWrite,
		PerKB:             c.PerKB,
	}
	if p == (cost.Pricing{}) {
		return cost.DefaultPricing()
	}
	return p
}
