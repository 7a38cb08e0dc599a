package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/manifest"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/internal/query/planner"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/pkg/types"
)

// Executor runs queries.
type Executor interface {
	Execute(ctx context.Context, q executor.Query) (*executor.QueryResult, error)
	Explain(ctx context.Context, q executor.Query) (*planner.QueryPlan, error)
}

// DocumentStore is the document store behind the document endpoints.
type DocumentStore interface {
	Insert(ctx context.Context, doc types.Document) (*store.ItemResponse, error)
	Upsert(ctx context.Context, doc types.Document) (*store.ItemResponse, error)
	Delete(ctx context.Context, pk types.Value, id string) (*store.ItemResponse, error)
	ReadItem(ctx context.Context, pk types.Value, id string) (*store.ItemResponse, error)
	PartitionKeyOf(doc types.Document) (types.Value, error)
	Count() int64
}

// IndexAdmin manages the container's indexes.
type IndexAdmin interface {
	Indexes() []index.Info
	CreateIndex(ctx context.Context, raw string) (index.Info, error)
	DropIndex(raw string) error
}

// IndexCatalog persists index definitions.
type IndexCatalog interface {
	SaveIndex(ctx context.Context, path string, auto bool) error
	DeleteIndex(ctx context.Context, path string) error
}

// Snapshotter exports snapshots on demand.
type Snapshotter interface {
	Export(ctx context.Context) (*manifest.SnapshotRecord, error)
}

// DefaultMaxPageSize caps max_item_count when Options.MaxPageSize is unset.
const DefaultMaxPageSize = 1000

// Options tune the API.
type Options struct {
	QueryTimeout time.Duration
	// MaxItemCount is the page size when a query request names none.
	MaxItemCount int
	// MaxPageSize is the largest max_item_count a request may ask for.
	MaxPageSize int
	// PopulateIndexMetrics includes index metrics in query responses
	// unless the request says otherwise.
	PopulateIndexMetrics bool
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// Deps are the components the API serves. Catalog, Stats, Snapshots and
// Gatherer are optional.
type Deps struct {
	Executor  Executor
	Store     DocumentStore
	Indexes   IndexAdmin
	Catalog   IndexCatalog
	Stats     *observability.QueryStats
	Snapshots Snapshotter
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	Options   Options
}

// NewRouter builds the chi router for the API.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Options.MaxItemCount <= 0 {
		d.Options.MaxItemCount = 100
	}
	if d.Options.MaxPageSize <= 0 {
		d.Options.MaxPageSize = DefaultMaxPageSize
	}
	d.Options.MaxPageSize = max(d.Options.MaxPageSize, d.Options.MaxItemCount)

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggerMiddleware(d.Logger))
	r.Use(RecoveryMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "documents": d.Store.Count()})
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if d.Options.RateLimit > 0 {
			r.Use(NewRateLimiter(d.Options.RateLimit, d.Options.RateBurst, 10*time.Minute).Middleware)
		}
		r.Use(ContentTypeMiddleware)

		q := NewQueryHandler(d.Executor, d.Options)
		r.Post("/query", q.ServeHTTP)
		r.Post("/query/explain", q.Explain)

		docs := NewDocumentHandler(d.Store)
		r.Post("/docs", docs.Create)
		r.Put("/partitions/{pk}/docs/{id}", docs.Upsert)
		r.Get("/partitions/{pk}/docs/{id}", docs.Read)
		r.Delete("/partitions/{pk}/docs/{id}", docs.Delete)

		ix := NewIndexHandler(d.Indexes, d.Catalog, d.Stats)
		r.Get("/indexes", ix.List)
		r.Post("/indexes", ix.Create)
		r.Delete("/indexes", ix.Drop)
		r.Get("/indexes/recommendations", ix.Recommendations)

		if d.Snapshots != nil {
			r.Post("/snapshots", snapshotHandler(d.Snapshots))
		}
	})
	return r
}

func snapshotHandler(s Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.Export(r.Context())
		if err != nil {
			writeDocError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"snapshot_id":    rec.SnapshotID,
			"object_path":    rec.ObjectPath,
			"lsn":            rec.LSN,
			"document_count": rec.DocumentCount,
			"size_bytes":     rec.SizeBytes,
			"request_id":     GetRequestID(r.Context()),
		})
	}
}
