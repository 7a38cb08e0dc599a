package partition

import (
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/docrune/pkg/types"
)

// Router maps logical partition keys onto a fixed number of physical
// ranges. A physical range is the unit of fan-out for cross-partition
// queries.
type Router struct {
	ranges int
}

// NewRouter creates a router over n physical ranges.
func NewRouter(n int) (*Router, error) {
	if n <= 0 {
		return nil, fmt.Errorf("routing: physical range count must be > 0, got %d", n)
	}
	return &Router{ranges: n}, nil
}

// Ranges returns the number of physical ranges.
func (r *Router) Ranges() int { return r.ranges }

// RangeOf returns the physical range holding the logical partition whose
// canonical key is partitionKey.
func (r *Router) RangeOf(partitionKey string) int {
	return int(murmur3.Sum32([]byte(partitionKey)) % uint32(r.ranges))
}

// RangeOfValue is RangeOf for a partition key value.
func (r *Router) RangeOfValue(pk types.Value) int {
	return r.RangeOf(pk.Canonical())
}

// Group buckets partition keys by physical range. Ranges with no
// partitions are omitted; keys keep their relative order within a range.
func (r *Router) Group(partitionKeys []string) map[int][]string {
	groups := make(map[int][]string)
	for _, k := range partitionKeys {
		rid := r.RangeOf(k)
		groups[rid] = append(groups[rid], k)
	}
	return groups
}

// RangeIDs returns the sorted ids of the ranges present in groups.
func RangeIDs(groups map[int][]string) []int {
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
