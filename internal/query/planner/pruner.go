package planner

import (
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// PruneResult contains the result of a 2-phase pruning operation.
type PruneResult struct {
	// Partitions is the final list of partitions after all pruning phases.
	Partitions []*partition.Partition

	// TotalPartitions is the number of non-empty partitions before pruning.
	TotalPartitions int

	// Phase1Candidates is the number of partitions after min/max pruning.
	Phase1Candidates int

	// Phase2Candidates is the number of partitions after bloom filter pruning.
	Phase2Candidates int

	// PruningRatio is the ratio of pruned partitions (0.0 to 1.0).
	PruningRatio float64
}

// Prune drops partitions whose summaries prove that some conjunct cannot
// match any of their documents.
// Phase 1: range conjuncts against the per-path min/max zones.
// Phase 2: equality, IN and IS_DEFINED conjuncts against the bloom filter.
// Summaries only ever over-approximate, so a pruned partition never holds a
// matching document.
func Prune(parts []*partition.Partition, conjuncts []parser.Conjunct) *PruneResult {
	var ranges, points []parser.Conjunct
	for _, c := range conjuncts {
		if c.Path == nil || !partition.SummaryCovers(c.Path.Path) {
			continue
		}
		switch c.Op {
		case parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe, parser.OpBetween:
			ranges = append(ranges, c)
		case parser.OpEq, parser.OpIn, parser.OpIsDefined:
			points = append(points, c)
		}
	}

	phase1 := phase1Prune(parts, ranges)
	phase2 := phase2Prune(phase1, points)

	var ratio float64
	if len(parts) > 0 {
		ratio = float64(len(parts)-len(phase2)) / float64(len(parts))
	}
	return &PruneResult{
		Partitions:       phase2,
		TotalPartitions:  len(parts),
		Phase1Candidates: len(phase1),
		Phase2Candidates: len(phase2),
		PruningRatio:     ratio,
	}
}

// phase1Prune performs min/max based pruning.
func phase1Prune(parts []*partition.Partition, ranges []parser.Conjunct) []*partition.Partition {
	if len(ranges) == 0 {
		return parts
	}
	var result []*partition.Partition
	for _, p := range parts {
		s := p.Summary()
		keep := true
		for _, c := range ranges {
			if !PartitionOverlapsRange(s, c) {
				keep = false
				break
			}
		}
		if keep {
			result = append(result, p)
		}
	}
	return result
}

// phase2Prune applies bloom filters to eliminate partitions left by phase 1.
func phase2Prune(parts []*partition.Partition, points []parser.Conjunct) []*partition.Partition {
	if len(points) == 0 {
		return parts
	}
	var result []*partition.Partition
	for _, p := range parts {
		s := p.Summary()
		keep := true
		for _, c := range points {
			if !PartitionContainsValue(s, c) {
				keep = false
				break
			}
		}
		if keep {
			result = append(result, p)
		}
	}
	return result
}

// PartitionContainsValue reports whether the summary admits a document
// satisfying an equality, IN or IS_DEFINED conjunct.
func PartitionContainsValue(s *partition.Summary, c parser.Conjunct) bool {
	path := c.Path.Path.String()
	switch c.Op {
	case parser.OpIsDefined:
		return s.MayBeDefined(path)
	case parser.OpEq, parser.OpIn:
		for _, v := range c.Values {
			if s.MayContain(path, v) {
				return true
			}
		}
		return false
	}
	return true
}

// PartitionOverlapsRange reports whether the summary admits a document
// satisfying a range conjunct. Range comparisons only hold between scalars
// of one kind, so only the zone of the operand's kind is consulted.
func PartitionOverlapsRange(s *partition.Summary, c parser.Conjunct) bool {
	path := c.Path.Path.String()
	switch c.Op {
	case parser.OpBetween:
		lo, hi := c.Values[0], c.Values[1]
		if !types.Comparable(lo, hi) {
			return false
		}
		return s.MayOverlap(path, lo.Kind(), &partition.Bound{Value: lo, Inclusive: true}, &partition.Bound{Value: hi, Inclusive: true})
	case parser.OpLt, parser.OpLe:
		v := c.Values[0]
		if !v.IsScalar() {
			return false
		}
		return s.MayOverlap(path, v.Kind(), nil, &partition.Bound{Value: v, Inclusive: c.Op == parser.OpLe})
	case parser.OpGt, parser.OpGe:
		v := c.Values[0]
		if !v.IsScalar() {
			return false
		}
		return s.MayOverlap(path, v.Kind(), &partition.Bound{Value: v, Inclusive: c.Op == parser.OpGe}, nil)
	}
	return true
}
