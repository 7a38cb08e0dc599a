package executor

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/query/planner"
	"github.com/arkilian/docrune/pkg/types"
)

// State is the execution state of a query.
type State int

const (
	StatePlanning State = iota
	StateScanning
	StateSorting
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateScanning:
		return "scanning"
	case StateSorting:
		return "sorting"
	default:
		return "done"
	}
}

// maxPrealloc bounds the capacity reserved up front for a page or window.
const maxPrealloc = 256

// Page is one page of a paged read.
type Page struct {
	Documents []types.Document
	// RequestCharge is the charge accrued while producing this page.
	RequestCharge float64
	// HasMoreResults is false on the last page.
	HasMoreResults bool
}

// QueryResult is the ordered, lazily produced result of one query. The
// documents can be iterated more than once: later iterations replay what
// was already produced and continue from there. The charge and the index
// metrics grow as documents are produced.
type QueryResult struct {
	ctx      context.Context
	exec     *Executor
	plan     *planner.QueryPlan
	meter    *cost.Meter
	pageSize int
	start    time.Time

	examined atomic.Int64

	mu       sync.Mutex
	state    State
	next     func() (types.Document, bool)
	stop     func()
	produced []types.Document
	finished bool
	err      error
}

func newQueryResult(ctx context.Context, e *Executor, plan *planner.QueryPlan, meter *cost.Meter, pageSize int, start time.Time) *QueryResult {
	return &QueryResult{
		ctx:      ctx,
		exec:     e,
		plan:     plan,
		meter:    meter,
		pageSize: pageSize,
		start:    start,
		state:    StateScanning,
	}
}

// Plan returns the plan the query runs with.
func (r *QueryResult) Plan() *planner.QueryPlan { return r.plan }

// State returns the current execution state.
func (r *QueryResult) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RequestCharge returns the charge accrued so far, including any charge
// accrued before a cancellation.
func (r *QueryResult) RequestCharge() float64 { return r.meter.Total() }

// ChargeBreakdown itemizes the charge accrued so far.
func (r *QueryResult) ChargeBreakdown() cost.Breakdown { return r.meter.Breakdown() }

// IndexMetrics returns the index metrics report with the document counts
// seen so far.
func (r *QueryResult) IndexMetrics() *cost.IndexMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := *r.plan.Metrics
	m.Clauses = append([]cost.ClauseMetric{}, m.Clauses...)
	m.UtilizedSingleIndexes = append([]cost.IndexSpec{}, m.UtilizedSingleIndexes...)
	m.PotentialSingleIndexes = append([]cost.IndexSpec{}, m.PotentialSingleIndexes...)
	m.UtilizedCompositeIndexes = append([]cost.IndexSpec{}, m.UtilizedCompositeIndexes...)
	m.PotentialCompositeIndexes = append([]cost.IndexSpec{}, m.PotentialCompositeIndexes...)
	m.DocumentsExamined = r.examined.Load()
	m.DocumentsReturned = int64(len(r.produced))
	m.Finalize()
	return &m
}

// Err returns the error that ended the sequence early, if any.
func (r *QueryResult) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// All returns the documents in result order.
func (r *QueryResult) All() iter.Seq[types.Document] {
	return func(yield func(types.Document) bool) {
		for i := 0; ; i++ {
			doc, ok := r.at(i)
			if !ok || !yield(doc) {
				return
			}
		}
	}
}

// Collect drains the result.
func (r *QueryResult) Collect() ([]types.Document, error) {
	var docs []types.Document
	for doc := range r.All() {
		docs = append(docs, doc)
	}
	if docs == nil {
		docs = []types.Document{}
	}
	return docs, r.Err()
}

// Window returns up to limit documents starting at offset, and whether any
// document follows them. Documents past the window are not produced.
func (r *QueryResult) Window(offset, limit int) ([]types.Document, bool, error) {
	if offset < 0 || limit < 0 {
		return nil, false, errors.InvalidQuery("invalid window offset %d limit %d", offset, limit)
	}
	docs := make([]types.Document, 0, min(limit, maxPrealloc))
	for i := offset; ; i++ {
		doc, ok := r.at(i)
		if !ok {
			return docs, false, r.Err()
		}
		if len(docs) == limit {
			return docs, true, nil
		}
		docs = append(docs, doc)
	}
}

// Pages yields the result a page at a time. Each page reports the charge
// accrued while it was produced, so the first page carries the query base
// charge.
func (r *QueryResult) Pages() iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		charged := 0.0
		for i := 0; ; {
			page := Page{Documents: make([]types.Document, 0, min(r.pageSize, maxPrealloc))}
			for len(page.Documents) < r.pageSize {
				doc, ok := r.at(i)
				if !ok {
					break
				}
				page.Documents = append(page.Documents, doc)
				i++
			}
			if err := r.Err(); err != nil {
				yield(page, err)
				return
			}
			_, more := r.at(i)
			total := r.meter.Total()
			page.RequestCharge = round2(total - charged)
			charged = total
			page.HasMoreResults = more
			if !yield(page, nil) || !more {
				return
			}
		}
	}
}

// Close stops a partially consumed result. It is a no-op after the result
// was drained.
func (r *QueryResult) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	if r.stop != nil {
		r.stop()
	}
	r.finishLocked()
}

// at returns the i-th document, producing documents up to it as needed.
func (r *QueryResult) at(i int) (types.Document, bool) {
	if i < 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.produced) <= i && !r.finished {
		if r.next == nil {
			r.next, r.stop = iter.Pull(iter.Seq[types.Document](r.run))
		}
		doc, ok := r.next()
		if !ok {
			r.stop()
			r.finishLocked()
			break
		}
		r.produced = append(r.produced, doc)
	}
	if i < len(r.produced) {
		return r.produced[i], true
	}
	return nil, false
}

func (r *QueryResult) finishLocked() {
	r.finished = true
	r.state = StateDone

	status := "ok"
	switch {
	case errors.GetCode(r.err) == errors.CodeCancelled:
		status = "cancelled"
	case r.err != nil:
		status = "error"
	}
	ru := r.meter.Total()
	examined := r.examined.Load()
	elapsed := time.Since(r.start)

	observability.QueriesTotal.WithLabelValues(r.plan.Kind(), r.plan.ScopeLabel(), status).Inc()
	observability.QueryDuration.WithLabelValues(r.plan.Kind()).Observe(elapsed.Seconds())
	observability.DocumentsExaminedTotal.Add(float64(examined))
	observability.ObserveCharge("query", ru)

	r.exec.logger.Debug("query executed",
		zap.String("statement", r.plan.Statement.String()),
		zap.String("access", r.plan.Kind()),
		zap.String("status", status),
		zap.Float64("ru", ru),
		zap.Int64("examined", examined),
		zap.Int("returned", len(r.produced)),
		zap.Duration("duration", elapsed),
	)
}

// fail records a cancellation or internal error. It only runs inside the
// producer, which is driven while r.mu is held.
func (r *QueryResult) fail(err error) {
	if r.err != nil {
		return
	}
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		r.err = errors.Cancelled(ctxErr)
		return
	}
	r.err = err
}

func round2(ru float64) float64 {
	return float64(int64(ru*100+0.5)) / 100
}
