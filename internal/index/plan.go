package index

import (
	"sort"

	"github.com/arkilian/docrune/pkg/types"
)

// FilterClause is one conjunct of a query's filter. Path is nil for clauses
// that do not test a single path; Indexable is false for clauses that can
// only be applied as a residual filter.
type FilterClause struct {
	Text      string
	Path      types.FieldPath
	Predicate Predicate
	Indexable bool
}

// OrderClause is one ORDER BY item.
type OrderClause struct {
	Text string
	Path types.FieldPath
	Desc bool
}

// Request is what the planner asks the index manager about a query.
type Request struct {
	// Scope is the canonical partition key the query is confined to, or "".
	Scope   string
	Filters []FilterClause
	OrderBy []OrderClause
}

// ClauseDecision records how a clause will be served.
type ClauseDecision struct {
	Clause      string
	Path        types.FieldPath
	IndexExists bool
	IndexUsed   bool
	Candidates  int
}

// Plan is either an index-driven candidate set or a full scan directive.
type Plan struct {
	FullScan bool
	// Candidates is the intersection of the per-clause candidate sets,
	// sorted by key. Only meaningful when FullScan is false.
	Candidates []Candidate
	// Intersection lists the filter positions in the order their candidate
	// sets were intersected.
	Intersection []int
	Seeks        int
	// IndexCandidates counts every candidate produced by the lookups,
	// before intersection.
	IndexCandidates int

	Filters []ClauseDecision
	OrderBy []ClauseDecision
	// OrderIndex is set when the leading ORDER BY path is indexed and its
	// order is read from the index.
	OrderIndex bool
	// NeedsSort is set when some ORDER BY clause must be sorted in memory.
	NeedsSort bool
}

// BestPlan decides, clause by clause, whether an index can serve the query.
// Candidate sets of indexable clauses are intersected smallest first, ties
// going to the clause declared first. Without any usable index the plan is
// a full scan.
func (m *Manager) BestPlan(req Request) *Plan {
	plan := &Plan{
		Filters: make([]ClauseDecision, len(req.Filters)),
		OrderBy: make([]ClauseDecision, len(req.OrderBy)),
	}

	type lookedUp struct {
		pos int
		res LookupResult
	}
	var sets []lookedUp
	for i, f := range req.Filters {
		d := ClauseDecision{Clause: f.Text, Path: f.Path}
		if f.Path != nil {
			d.IndexExists = m.HasIndex(f.Path)
		}
		if d.IndexExists && f.Indexable {
			if res, ok := m.Lookup(f.Path, f.Predicate, req.Scope); ok {
				d.IndexUsed = true
				d.Candidates = len(res.Candidates)
				plan.Seeks += res.Seeks
				plan.IndexCandidates += len(res.Candidates)
				sets = append(sets, lookedUp{pos: i, res: res})
			}
		}
		plan.Filters[i] = d
	}

	for i, o := range req.OrderBy {
		d := ClauseDecision{Clause: o.Text, Path: o.Path, IndexExists: m.HasIndex(o.Path)}
		if i == 0 && d.IndexExists {
			d.IndexUsed = true
			plan.OrderIndex = true
		}
		plan.OrderBy[i] = d
	}
	plan.NeedsSort = len(req.OrderBy) > 1 || (len(req.OrderBy) == 1 && !plan.OrderIndex)

	if len(sets) == 0 {
		plan.FullScan = true
		return plan
	}

	sort.SliceStable(sets, func(i, j int) bool {
		return len(sets[i].res.Candidates) < len(sets[j].res.Candidates)
	})

	current := make(map[types.Key]Candidate, len(sets[0].res.Candidates))
	for _, c := range sets[0].res.Candidates {
		current[c.Key] = c
	}
	plan.Intersection = append(plan.Intersection, sets[0].pos)
	for _, s := range sets[1:] {
		plan.Intersection = append(plan.Intersection, s.pos)
		if len(current) == 0 {
			continue
		}
		next := make(map[types.Key]Candidate, len(current))
		for _, c := range s.res.Candidates {
			if prev, ok := current[c.Key]; ok {
				next[c.Key] = prev
			}
		}
		current = next
	}

	plan.Candidates = make([]Candidate, 0, len(current))
	for _, c := range current {
		plan.Candidates = append(plan.Candidates, c)
	}
	sortCandidates(plan.Candidates)
	return plan
}
