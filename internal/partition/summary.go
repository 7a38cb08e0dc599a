package partition

import (
	"sync"

	"github.com/arkilian/docrune/internal/bloom"
	"github.com/arkilian/docrune/pkg/types"
)

const (
	// maxSummaryDepth bounds how deep Observe walks nested documents.
	maxSummaryDepth = 8
	// pairsPerDoc is the sizing guess for (path, value) members per document.
	pairsPerDoc = 16
	summaryFPR  = 0.01
)

// Summary is the pruning synopsis of one partition: a bloom filter over
// every (path, value) pair and a min/max zone per (path, kind). Both only
// grow, so a summary may say "maybe" for data that was deleted but never
// says "no" for data that is present.
type Summary struct {
	mu       sync.RWMutex
	filter   *bloom.Filter
	capacity int
	zones    map[zoneKey]*zone
	stale    int
}

type zoneKey struct {
	path string
	kind types.Kind
}

type zone struct {
	min, max types.Value
}

// Bound is one end of a range. A nil *Bound is unbounded.
type Bound struct {
	Value     types.Value
	Inclusive bool
}

// NewSummary creates a summary sized for the expected number of documents.
func NewSummary(expectedDocs int) *Summary {
	if expectedDocs < 64 {
		expectedDocs = 64
	}
	capacity := expectedDocs * pairsPerDoc
	return &Summary{
		filter:   bloom.NewWithEstimates(capacity, summaryFPR),
		capacity: capacity,
		zones:    make(map[zoneKey]*zone),
	}
}

// Observe widens the summary to cover doc.
func (s *Summary) Observe(doc types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range doc {
		s.walk(types.FieldPath{{Name: name}}, v, 0)
	}
}

func (s *Summary) walk(path types.FieldPath, v types.Value, depth int) {
	p := path.String()
	s.filter.AddPair(p, "")
	s.filter.AddPair(p, v.Canonical())
	if v.IsScalar() {
		k := zoneKey{path: p, kind: v.Kind()}
		z, ok := s.zones[k]
		switch {
		case !ok:
			s.zones[k] = &zone{min: v, max: v}
		case types.Compare(v, z.min) < 0:
			z.min = v
		case types.Compare(v, z.max) > 0:
			z.max = v
		}
	}
	if depth >= maxSummaryDepth {
		return
	}
	switch v.Kind() {
	case types.KindObject:
		for _, name := range v.Keys() {
			s.walk(append(path[:len(path):len(path)], types.PathStep{Name: name}), v.Field(name), depth+1)
		}
	case types.KindArray:
		for i, e := range v.Elements() {
			s.walk(append(path[:len(path):len(path)], types.PathStep{Index: i, IsIndex: true}), e, depth+1)
		}
	}
}

// Retract records that a previously observed document went away.
func (s *Summary) Retract() {
	s.mu.Lock()
	s.stale++
	s.mu.Unlock()
}

// NeedsRebuild reports whether stale members or overfill make the summary
// worth rebuilding for a partition with live documents.
func (s *Summary) NeedsRebuild(live int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stale > 32 && s.stale > live {
		return true
	}
	return s.filter.Count() > uint64(2*s.capacity)
}

// SummaryCovers reports whether summaries record values at path. Paths
// nested deeper than the summary walk are never pruned on.
func SummaryCovers(path types.FieldPath) bool {
	return len(path) > 0 && len(path) <= maxSummaryDepth+1
}

// MayBeDefined reports whether any document may have a value at path.
func (s *Summary) MayBeDefined(path string) bool {
	return s.filter.ContainsPair(path, "")
}

// MayContain reports whether some document may hold exactly v at path.
func (s *Summary) MayContain(path string, v types.Value) bool {
	if !v.IsDefined() {
		return false
	}
	return s.filter.ContainsPair(path, v.Canonical())
}

// MayOverlap reports whether some document may hold a value of the given
// kind at path within [lo, hi]. Exclusive bounds are treated as inclusive.
func (s *Summary) MayOverlap(path string, kind types.Kind, lo, hi *Bound) bool {
	if kind < types.KindNull || kind > types.KindString {
		return s.MayBeDefined(path)
	}
	s.mu.RLock()
	z, ok := s.zones[zoneKey{path: path, kind: kind}]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if lo != nil && types.Compare(z.max, lo.Value) < 0 {
		return false
	}
	if hi != nil && types.Compare(z.min, hi.Value) > 0 {
		return false
	}
	return true
}

// Zone returns the observed min and max for (path, kind).
func (s *Summary) Zone(path string, kind types.Kind) (min, max types.Value, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[zoneKey{path: path, kind: kind}]
	if !ok {
		return types.Value{}, types.Value{}, false
	}
	return z.min, z.max, true
}
