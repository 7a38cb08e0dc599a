// Package observability tracks which field paths queries filter and sort
// on, and exports Prometheus collectors for request units and query plans.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats tracks predicate and order-by path frequency so that paths
// queried often without an index can be recommended for indexing.
type QueryStats struct {
	mu     sync.RWMutex
	paths  map[string]*PathStats
	window time.Duration
	now    func() time.Time
}

// PathStats holds statistics for one field path.
type PathStats struct {
	Path      string
	Frequency int64
	// Unindexed counts uses that had no index to serve them.
	Unindexed int64
	LastSeen  time.Time
	Operators map[string]int // operator → count (e.g., "=" → 5, "ORDER BY" → 2)
}

// NewQueryStats creates a tracker that forgets paths not seen within window.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		paths:  make(map[string]*PathStats),
		window: window,
		now:    time.Now,
	}
}

// RecordPredicate records a filter on path with the given operator.
func (q *QueryStats) RecordPredicate(path, operator string, indexed bool) {
	q.record(path, operator, indexed)
}

// RecordOrderBy records a sort on path.
func (q *QueryStats) RecordOrderBy(path string, indexed bool) {
	q.record(path, "ORDER BY", indexed)
}

func (q *QueryStats) record(path, operator string, indexed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.paths[path]
	if !exists {
		stats = &PathStats{Path: path, Operators: make(map[string]int)}
		q.paths[path] = stats
	}
	stats.Frequency++
	if !indexed {
		stats.Unindexed++
	}
	stats.LastSeen = q.now()
	stats.Operators[operator]++
}

// TopPaths returns the n most frequently used paths, most frequent first.
// The returned stats are copies.
func (q *QueryStats) TopPaths(n int) []PathStats {
	return q.top(n, func(*PathStats) bool { return true }, func(s *PathStats) int64 { return s.Frequency })
}

// Recommendations returns up to n paths that were used without an index at
// least minUnindexed times, ordered by unindexed use.
func (q *QueryStats) Recommendations(n int, minUnindexed int64) []PathStats {
	return q.top(n,
		func(s *PathStats) bool { return s.Unindexed >= minUnindexed && s.Unindexed > 0 },
		func(s *PathStats) int64 { return s.Unindexed })
}

func (q *QueryStats) top(n int, keep func(*PathStats) bool, score func(*PathStats) int64) []PathStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.paths) == 0 {
		return []PathStats{}
	}

	type scored struct {
		stats PathStats
		score int64
	}
	out := make([]scored, 0, len(q.paths))
	for _, s := range q.paths {
		if !keep(s) {
			continue
		}
		cp := *s
		cp.Operators = make(map[string]int, len(s.Operators))
		for op, count := range s.Operators {
			cp.Operators[op] = count
		}
		out = append(out, scored{stats: cp, score: score(s)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].stats.Path < out[j].stats.Path
	})

	if n > len(out) {
		n = len(out)
	}
	result := make([]PathStats, n)
	for i := range result {
		result[i] = out[i].stats
	}
	return result
}

// Forget drops a path, e.g. after an index was created for it.
func (q *QueryStats) Forget(path string) {
	q.mu.Lock()
	delete(q.paths, path)
	q.mu.Unlock()
}

// Prune removes paths not seen within the window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := q.now().Add(-q.window)
	for path, stats := range q.paths {
		if stats.LastSeen.Before(threshold) {
			delete(q.paths, path)
		}
	}
}
