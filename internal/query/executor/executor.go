// Package executor runs planned queries against the document store. It
// scans the planned partitions, fanning out per physical range for
// cross-partition queries, applies the residual filter, orders and projects
// the matches, and meters the request charge as it goes.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/internal/query/planner"
	"github.com/arkilian/docrune/pkg/types"
)

// Indexes is what the executor needs from the index manager.
type Indexes interface {
	planner.Advisor
	Walk(path types.FieldPath, desc bool) ([]index.Candidate, []types.Value, bool)
}

// Options configures an Executor.
type Options struct {
	Pricing cost.Pricing
	// Concurrency bounds the physical ranges scanned in parallel.
	Concurrency int
	// PageSize is the default page size for Pages.
	PageSize int
	// Ranges is the number of physical ranges partitions are routed to.
	Ranges int
	Stats  *observability.QueryStats
	Logger *zap.Logger
}

// Query is one query submission. Either SQL or Statement is set.
type Query struct {
	SQL       string
	Statement *parser.SelectStatement
	// PartitionKey confines the query to one partition; nil lets the
	// planner decide from the filter.
	PartitionKey *types.Value
	// Parameters binds @name parameters, keyed without the @.
	Parameters map[string]types.Value
	// PageSize overrides the executor's default page size.
	PageSize int
}

// Executor executes queries over one store.
type Executor struct {
	planner  *planner.Planner
	indexes  Indexes
	pricing  cost.Pricing
	pool     *scanPool
	pageSize int
	logger   *zap.Logger
}

// New creates an executor over store using indexes for access paths.
func New(store planner.Store, indexes Indexes, opts Options) (*Executor, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pricing == (cost.Pricing{}) {
		opts.Pricing = cost.DefaultPricing()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Ranges <= 0 {
		opts.Ranges = 4
	}
	router, err := partition.NewRouter(opts.Ranges)
	if err != nil {
		return nil, err
	}
	pool, err := newScanPool(PoolConfig{Workers: opts.Concurrency}, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Executor{
		planner:  planner.NewPlanner(store, indexes, router, opts.Stats, opts.Logger),
		indexes:  indexes,
		pricing:  opts.Pricing,
		pool:     pool,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
	}, nil
}

// Close releases the scan workers. Results still being iterated fail.
func (e *Executor) Close() {
	e.pool.close()
}

// Execute plans q and returns its result. Nothing is scanned until the
// result is iterated; ctx governs the whole iteration.
func (e *Executor) Execute(ctx context.Context, q Query) (*QueryResult, error) {
	start := time.Now()
	plan, err := e.prepare(ctx, q)
	if err != nil {
		status := "error"
		if errors.GetCode(err) == errors.CodeCancelled {
			status = "cancelled"
		}
		observability.QueriesTotal.WithLabelValues("none", "none", status).Inc()
		return nil, err
	}

	meter := cost.NewMeter(e.pricing)
	meter.ChargeQueryBase()
	if !plan.Unsatisfiable && !plan.Index.FullScan {
		meter.ChargeIndexSeeks(plan.Index.Seeks)
		meter.ChargeIndexCandidates(plan.Index.IndexCandidates)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = e.pageSize
	}
	return newQueryResult(ctx, e, plan, meter, pageSize, start), nil
}

// ExecuteSQL parses and executes sql with the given parameters.
func (e *Executor) ExecuteSQL(ctx context.Context, sql string, params map[string]types.Value) (*QueryResult, error) {
	return e.Execute(ctx, Query{SQL: sql, Parameters: params})
}

// Explain plans q without executing it.
func (e *Executor) Explain(ctx context.Context, q Query) (*planner.QueryPlan, error) {
	return e.prepare(ctx, q)
}

func (e *Executor) prepare(ctx context.Context, q Query) (*planner.QueryPlan, error) {
	stmt := q.Statement
	if stmt == nil {
		if q.SQL == "" {
			return nil, errors.InvalidQuery("query text is required")
		}
		parsed, err := parser.Parse(q.SQL)
		if err != nil {
			return nil, err
		}
		stmt = parsed
	}
	if len(q.Parameters) > 0 || len(parser.Params(stmt)) > 0 {
		bound, err := parser.Bind(stmt, q.Parameters)
		if err != nil {
			return nil, err
		}
		stmt = bound
	}
	plan, err := e.planner.Plan(ctx, stmt, q.PartitionKey)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	return plan, nil
}

// walkOrder reads the leading ORDER BY path from its index. Every entry
// walked is charged as an index candidate.
func (e *Executor) walkOrder(plan *planner.QueryPlan, sorter *OrderBySorter, meter *cost.Meter) {
	lead := plan.Statement.OrderBy[0]
	cands, values, ok := e.indexes.Walk(lead.Path.Path, lead.Desc)
	if !ok {
		return
	}
	keys := make([]types.Key, len(cands))
	for i, c := range cands {
		keys[i] = c.Key
	}
	sorter.UseIndexOrder(keys, values)
	meter.ChargeIndexSeeks(1)
	meter.ChargeIndexCandidates(len(cands))
}
