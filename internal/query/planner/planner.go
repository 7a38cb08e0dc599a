// Package planner turns a parsed query into an execution plan: it folds
// constants, fixes the partition scope, asks the index manager for the best
// access path, prunes partitions by their summaries and groups the
// survivors by physical range.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// Store is the part of the document store the planner reads.
type Store interface {
	PartitionKeyPath() types.FieldPath
	Partition(pk types.Value) (*partition.Partition, bool)
	Partitions() []*partition.Partition
}

// Advisor chooses between index lookups and a full scan.
type Advisor interface {
	BestPlan(req index.Request) *index.Plan
}

// ScopeSource says how a query's partition scope was decided.
type ScopeSource string

const (
	ScopeCrossPartition ScopeSource = ""
	ScopeExplicit       ScopeSource = "explicit"
	ScopeFilter         ScopeSource = "filter"
)

// RangeScan is the set of partitions one fan-out worker scans.
type RangeScan struct {
	ID         int
	Partitions []*partition.Partition
}

// QueryPlan represents a plan for executing a query.
type QueryPlan struct {
	// Statement is the bound and simplified statement to execute.
	Statement *parser.SelectStatement

	// Conjuncts are the top-level AND terms of the WHERE clause.
	Conjuncts []parser.Conjunct

	// Scope is the partition key the query is confined to; nil for a
	// cross-partition query.
	Scope       *types.Value
	ScopeSource ScopeSource

	// Unsatisfiable is set when the filter folded to a constant that is
	// not true; nothing is scanned.
	Unsatisfiable bool

	// Ranges lists the partitions to scan after pruning, grouped by
	// physical range in ascending range order.
	Ranges []RangeScan

	// Index is the index manager's decision.
	Index *index.Plan

	// PruningStats contains statistics about the pruning process.
	PruningStats PruningStats

	// Metrics is the index metrics report, filled in with document counts
	// by the executor.
	Metrics *cost.IndexMetrics
}

// PruningStats contains statistics about partition pruning.
type PruningStats struct {
	// TotalPartitions is the number of non-empty partitions in scope.
	TotalPartitions int

	// Phase1Candidates is the number of partitions after min/max pruning.
	Phase1Candidates int

	// Phase2Candidates is the number of partitions after bloom filter pruning.
	Phase2Candidates int

	// PrunedCount is the total number of partitions pruned.
	PrunedCount int

	// PruningRatio is the ratio of pruned partitions (0.0 to 1.0).
	PruningRatio float64
}

// CrossPartition reports whether the query spans partitions.
func (p *QueryPlan) CrossPartition() bool { return p.Scope == nil }

// Kind labels the access path: "empty", "index" or "scan".
func (p *QueryPlan) Kind() string {
	switch {
	case p.Unsatisfiable:
		return "empty"
	case !p.Index.FullScan:
		return "index"
	default:
		return "scan"
	}
}

// ScopeLabel labels the partition scope: "partition" or "cross".
func (p *QueryPlan) ScopeLabel() string {
	if p.CrossPartition() {
		return "cross"
	}
	return "partition"
}

// PartitionCount returns the number of partitions the plan scans.
func (p *QueryPlan) PartitionCount() int {
	n := 0
	for _, r := range p.Ranges {
		n += len(r.Partitions)
	}
	return n
}

// HasOrderBy returns true if the query has an ORDER BY clause.
func (p *QueryPlan) HasOrderBy() bool {
	return len(p.Statement.OrderBy) > 0
}

// String renders the plan for EXPLAIN output.
func (p *QueryPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.Statement)
	scope := "cross-partition"
	if p.Scope != nil {
		scope = fmt.Sprintf("partition %s (%s)", p.Scope.Canonical(), p.ScopeSource)
	}
	fmt.Fprintf(&b, "scope: %s\n", scope)
	fmt.Fprintf(&b, "access: %s\n", p.Kind())
	for i, d := range p.Index.Filters {
		how := "residual"
		if d.IndexUsed {
			how = fmt.Sprintf("index (%d candidates)", d.Candidates)
		}
		fmt.Fprintf(&b, "  filter %d: %s -> %s\n", i+1, d.Clause, how)
	}
	for _, d := range p.Index.OrderBy {
		how := "sort"
		if d.IndexUsed {
			how = "index order"
		}
		fmt.Fprintf(&b, "  order: %s -> %s\n", d.Clause, how)
	}
	fmt.Fprintf(&b, "partitions: %d scanned in %d ranges, %d pruned\n",
		p.PartitionCount(), len(p.Ranges), p.PruningStats.PrunedCount)
	return b.String()
}

// Planner generates query plans from parsed statements.
type Planner struct {
	store   Store
	advisor Advisor
	router  *partition.Router
	stats   *observability.QueryStats
	logger  *zap.Logger
}

// NewPlanner creates a new query planner. stats may be nil.
func NewPlanner(store Store, advisor Advisor, router *partition.Router, stats *observability.QueryStats, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		store:   store,
		advisor: advisor,
		router:  router,
		stats:   stats,
		logger:  logger,
	}
}

// Plan generates a query plan for a bound statement. pk, when non-nil,
// confines the query to one partition.
func (p *Planner) Plan(ctx context.Context, stmt *parser.SelectStatement, pk *types.Value) (*QueryPlan, error) {
	if stmt == nil {
		return nil, fmt.Errorf("planner: nil statement")
	}
	if names := parser.Params(stmt); len(names) > 0 {
		return nil, errors.InvalidQuery("no value bound for parameter @%s", names[0])
	}
	for _, o := range stmt.OrderBy {
		if o.Path == nil || len(o.Path.Path) == 0 {
			return nil, errors.InvalidQuery("ORDER BY requires a field path")
		}
	}
	if pk != nil && (!pk.IsDefined() || !pk.IsScalar()) {
		return nil, errors.InvalidQuery("partition key must be a scalar value, got %s", pk.Kind())
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}

	simplified, unsatisfiable := Simplify(stmt)
	plan := &QueryPlan{
		Statement:     simplified,
		Conjuncts:     parser.Conjuncts(simplified.Where),
		Unsatisfiable: unsatisfiable,
	}

	p.resolveScope(plan, pk)

	req := index.Request{
		Filters: make([]index.FilterClause, len(plan.Conjuncts)),
		OrderBy: make([]index.OrderClause, len(simplified.OrderBy)),
	}
	if plan.Scope != nil {
		req.Scope = plan.Scope.Canonical()
	}
	for i, c := range plan.Conjuncts {
		fc := index.FilterClause{Text: c.Expr.String(), Indexable: c.Indexable()}
		if c.Path != nil {
			fc.Path = c.Path.Path
		}
		if c.Indexable() {
			fc.Predicate = indexPredicate(c)
		}
		req.Filters[i] = fc
	}
	for i, o := range simplified.OrderBy {
		req.OrderBy[i] = index.OrderClause{Text: o.String(), Path: o.Path.Path, Desc: o.Desc}
	}
	plan.Index = p.advisor.BestPlan(req)

	if !plan.Unsatisfiable {
		p.selectPartitions(plan)
	}
	p.recordStats(plan)
	plan.Metrics = buildMetrics(plan)

	p.logger.Debug("query planned",
		zap.String("statement", simplified.String()),
		zap.String("access", plan.Kind()),
		zap.String("scope", plan.ScopeLabel()),
		zap.Int("partitions", plan.PartitionCount()),
		zap.Int("pruned", plan.PruningStats.PrunedCount),
		zap.Int("index_candidates", plan.Index.IndexCandidates),
	)
	return plan, nil
}

// resolveScope confines the query to one partition when the caller names
// one or the filter pins the partition key path to a scalar.
func (p *Planner) resolveScope(plan *QueryPlan, pk *types.Value) {
	if pk != nil {
		v := *pk
		plan.Scope = &v
		plan.ScopeSource = ScopeExplicit
		return
	}
	pkPath := p.store.PartitionKeyPath()
	for _, c := range plan.Conjuncts {
		if c.Op != parser.OpEq || c.Path == nil || !c.Path.Path.Equal(pkPath) {
			continue
		}
		if v := c.Values[0]; v.IsScalar() {
			plan.Scope = &v
			plan.ScopeSource = ScopeFilter
			return
		}
	}
}

func (p *Planner) selectPartitions(plan *QueryPlan) {
	var parts []*partition.Partition
	if plan.Scope != nil {
		if part, ok := p.store.Partition(*plan.Scope); ok {
			parts = []*partition.Partition{part}
		}
		plan.PruningStats = PruningStats{
			TotalPartitions:  len(parts),
			Phase1Candidates: len(parts),
			Phase2Candidates: len(parts),
		}
	} else {
		res := Prune(p.store.Partitions(), plan.Conjuncts)
		parts = res.Partitions
		plan.PruningStats = PruningStats{
			TotalPartitions:  res.TotalPartitions,
			Phase1Candidates: res.Phase1Candidates,
			Phase2Candidates: res.Phase2Candidates,
			PrunedCount:      res.TotalPartitions - res.Phase2Candidates,
			PruningRatio:     res.PruningRatio,
		}
		if plan.PruningStats.PrunedCount > 0 {
			observability.PartitionsPrunedTotal.Add(float64(plan.PruningStats.PrunedCount))
		}
	}

	byKey := make(map[string]*partition.Partition, len(parts))
	keys := make([]string, len(parts))
	for i, part := range parts {
		byKey[part.Key()] = part
		keys[i] = part.Key()
	}
	groups := p.router.Group(keys)
	for _, id := range partition.RangeIDs(groups) {
		scan := RangeScan{ID: id}
		for _, k := range groups[id] {
			scan.Partitions = append(scan.Partitions, byKey[k])
		}
		plan.Ranges = append(plan.Ranges, scan)
	}
}

func (p *Planner) recordStats(plan *QueryPlan) {
	if p.stats == nil {
		return
	}
	for i, c := range plan.Conjuncts {
		if c.Indexable() {
			p.stats.RecordPredicate(c.Path.Path.String(), c.Operator, plan.Index.Filters[i].IndexExists)
		}
	}
	for _, d := range plan.Index.OrderBy {
		p.stats.RecordOrderBy(d.Path.String(), d.IndexExists)
	}
}

func indexPredicate(c parser.Conjunct) index.Predicate {
	ops := map[string]index.Op{
		parser.OpEq:        index.OpEq,
		parser.OpLt:        index.OpLt,
		parser.OpLe:        index.OpLe,
		parser.OpGt:        index.OpGt,
		parser.OpGe:        index.OpGe,
		parser.OpBetween:   index.OpBetween,
		parser.OpIn:        index.OpIn,
		parser.OpIsDefined: index.OpDefined,
	}
	return index.Predicate{Op: ops[c.Op], Values: c.Values}
}
