package planner

import (
	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// buildMetrics assembles the index metrics report from the index manager's
// per-clause decisions. Document counts are filled in during execution.
func buildMetrics(plan *QueryPlan) *cost.IndexMetrics {
	m := &cost.IndexMetrics{
		FullScan:          plan.Index.FullScan && !plan.Unsatisfiable,
		IndexCandidates:   int64(plan.Index.IndexCandidates),
		PartitionsScanned: plan.PartitionCount(),
		PartitionsPruned:  plan.PruningStats.PrunedCount,
	}

	utilized := newSpecSet()
	potential := newSpecSet()
	composite := newSpecSet()

	for i, d := range plan.Index.Filters {
		c := plan.Conjuncts[i]
		cm := cost.ClauseMetric{
			Clause:      d.Clause,
			Kind:        cost.ClauseFilter,
			IndexExists: d.IndexExists,
			IndexUsed:   d.IndexUsed,
			FullScan:    plan.Index.FullScan,
			Candidates:  d.Candidates,
		}
		if d.Path != nil {
			cm.Path = d.Path.String()
		}
		m.Clauses = append(m.Clauses, cm)

		switch {
		case d.IndexUsed:
			utilized.add(cost.SingleIndexSpec(d.Path))
		case c.Indexable() && !d.IndexExists:
			potential.add(cost.SingleIndexSpec(d.Path))
		}
	}

	for _, d := range plan.Index.OrderBy {
		m.Clauses = append(m.Clauses, cost.ClauseMetric{
			Clause:      d.Clause,
			Kind:        cost.ClauseOrderBy,
			Path:        d.Path.String(),
			IndexExists: d.IndexExists,
			IndexUsed:   d.IndexUsed,
			FullScan:    !d.IndexUsed && plan.Index.FullScan,
		})
		switch {
		case d.IndexUsed:
			utilized.add(cost.SingleIndexSpec(d.Path))
		case !d.IndexExists:
			potential.add(cost.SingleIndexSpec(d.Path))
		}
	}

	order := plan.Statement.OrderBy
	if len(order) > 0 {
		var paths []types.FieldPath
		var desc []bool
		for _, c := range plan.Conjuncts {
			if c.Op == parser.OpEq {
				paths = append(paths, c.Path.Path)
				desc = append(desc, false)
			}
		}
		eqFilters := len(paths)
		for _, o := range order {
			paths = append(paths, o.Path.Path)
			desc = append(desc, o.Desc)
		}
		if len(order) > 1 {
			composite.add(cost.CompositeIndexSpec(paths[eqFilters:], desc[eqFilters:]))
		}
		if eqFilters > 0 {
			composite.add(cost.CompositeIndexSpec(paths, desc))
		}
	}

	m.UtilizedSingleIndexes = utilized.specs
	m.PotentialSingleIndexes = potential.specs
	m.PotentialCompositeIndexes = composite.specs
	return m
}

type specSet struct {
	seen  map[string]bool
	specs []cost.IndexSpec
}

func newSpecSet() *specSet {
	return &specSet{seen: make(map[string]bool), specs: []cost.IndexSpec{}}
}

func (s *specSet) add(spec string) {
	if s.seen[spec] {
		return
	}
	s.seen[spec] = true
	s.specs = append(s.specs, cost.IndexSpec{Spec: spec})
}
