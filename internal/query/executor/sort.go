package executor

import (
	"sort"

	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// OrderBySorter sorts matches according to ORDER BY clauses. Absent and
// null values sort before everything else in ascending order; descending
// order reverses the comparison.
type OrderBySorter struct {
	clauses []parser.OrderByClause
	// ranks, when set, orders the leading clause by position in an index
	// walk instead of by comparing values.
	ranks map[types.Key]int
}

// NewOrderBySorter creates a new sorter for the given ORDER BY clauses.
func NewOrderBySorter(clauses []parser.OrderByClause) *OrderBySorter {
	return &OrderBySorter{clauses: clauses}
}

// UseIndexOrder makes the leading clause follow an index walk. keys and
// values come from the walk in walk order; equal values share a rank.
// Documents missing from the walk have no value at the path and take the
// lowest rank, or the highest when the walk is descending.
func (s *OrderBySorter) UseIndexOrder(keys []types.Key, values []types.Value) {
	s.ranks = make(map[types.Key]int, len(keys))
	rank := 0
	for i, k := range keys {
		if i > 0 && types.Compare(values[i], values[i-1]) != 0 {
			rank++
		}
		s.ranks[k] = rank + 1
	}
}

type sortRow struct {
	m    match
	keys []types.Value
	rank int
}

// Sort sorts ms in place. The sort is stable: matches with equal keys keep
// the order they were produced in.
func (s *OrderBySorter) Sort(ms []match) {
	if len(s.clauses) == 0 || len(ms) <= 1 {
		return
	}

	missingRank := 0
	if s.ranks != nil && s.clauses[0].Desc {
		missingRank = len(s.ranks) + 1
	}

	rows := make([]sortRow, len(ms))
	for i, m := range ms {
		row := sortRow{m: m, keys: make([]types.Value, len(s.clauses))}
		for k, c := range s.clauses {
			row.keys[k] = c.Path.Path.Resolve(m.rec.Doc)
		}
		if s.ranks != nil {
			r, ok := s.ranks[m.rec.Key]
			if !ok {
				r = missingRank
			}
			row.rank = r
		}
		rows[i] = row
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return s.compare(rows[i], rows[j]) < 0
	})

	for i := range rows {
		ms[i] = rows[i].m
	}
}

func (s *OrderBySorter) compare(a, b sortRow) int {
	for k, clause := range s.clauses {
		var cmp int
		if k == 0 && s.ranks != nil {
			// walk order already accounts for direction
			cmp = a.rank - b.rank
		} else {
			cmp = types.Compare(a.keys[k], b.keys[k])
			if clause.Desc {
				cmp = -cmp
			}
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}
