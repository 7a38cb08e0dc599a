package executor

import (
	"sort"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/internal/query/eval"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// run produces the result documents. It drives Scanning, then Sorting, and
// yields projected documents within the OFFSET/LIMIT window.
func (r *QueryResult) run(yield func(types.Document) bool) {
	plan := r.plan
	stmt := plan.Statement
	skip, take := window(stmt)
	if plan.Unsatisfiable || plan.PartitionCount() == 0 || take == 0 {
		return
	}

	emit := func(m match) bool {
		if err := r.ctx.Err(); err != nil {
			r.fail(err)
			return false
		}
		if skip > 0 {
			skip--
			return true
		}
		if !yield(project(stmt, m.rec.Doc)) {
			return false
		}
		if take > 0 {
			take--
			if take == 0 {
				return false
			}
		}
		return true
	}

	byPartition := r.candidatesByPartition()

	// A scoped query without ORDER BY streams its single partition in
	// insertion order; nothing past the window is read.
	if !plan.CrossPartition() && !plan.HasOrderBy() {
		part := plan.Ranges[0].Partitions[0]
		if !r.scanPartition(part, byPartition[part.Key()], emit) && r.ctx.Err() != nil {
			r.fail(r.ctx.Err())
		}
		return
	}

	var matches []match
	if plan.CrossPartition() {
		var ok bool
		matches, ok = r.fanOut(byPartition)
		if !ok {
			return
		}
	} else {
		part := plan.Ranges[0].Partitions[0]
		if !r.scanPartition(part, byPartition[part.Key()], func(m match) bool {
			matches = append(matches, m)
			return true
		}) {
			r.fail(r.ctx.Err())
			return
		}
	}

	if plan.HasOrderBy() {
		r.state = StateSorting
		sorter := NewOrderBySorter(stmt.OrderBy)
		if plan.Index.OrderIndex {
			r.exec.walkOrder(plan, sorter, r.meter)
		}
		sorter.Sort(matches)
	}

	for _, m := range matches {
		if !emit(m) {
			return
		}
	}
}

// fanOut scans every planned range on the pool and merges the per-range
// results by document key. It reports false when the scan was cancelled.
func (r *QueryResult) fanOut(byPartition map[string][]index.Candidate) ([]match, bool) {
	ranges := r.plan.Ranges
	streams := make([][]match, len(ranges))
	completed := make([]bool, len(ranges))

	err := r.exec.pool.runAll(r.ctx, len(ranges), func(i int) {
		var out []match
		for _, part := range ranges[i].Partitions {
			ok := r.scanPartition(part, byPartition[part.Key()], func(m match) bool {
				out = append(out, m)
				return true
			})
			if !ok {
				return
			}
		}
		sort.Slice(out, func(a, b int) bool { return out[a].rec.Key.Less(out[b].rec.Key) })
		streams[i] = out
		completed[i] = true
	})
	if err != nil {
		r.fail(err)
		return nil, false
	}
	for _, done := range completed {
		if !done {
			r.fail(errors.NewInternalError("range scan did not complete", r.ctx.Err()))
			return nil, false
		}
	}
	return mergeByKey(streams), true
}

// scanPartition reads one partition snapshot and hands every record that
// passes the filter to fn in insertion order. Index plans read only their
// candidates; full scans read every record and pay for each. It reports
// false when fn stopped the scan or ctx was cancelled.
func (r *QueryResult) scanPartition(part *partition.Partition, cands []index.Candidate, fn func(match) bool) bool {
	snap := part.Snapshot()
	where := r.plan.Statement.Where

	var recs []*partition.Record
	if r.plan.Index.FullScan {
		recs = snap.Records
	} else {
		recs = make([]*partition.Record, 0, len(cands))
		for _, c := range cands {
			if rec, ok := snap.Find(c.Seq, c.Key.ID); ok {
				recs = append(recs, rec)
			}
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	}

	for _, rec := range recs {
		if r.ctx.Err() != nil {
			return false
		}
		r.examined.Add(1)
		if r.plan.Index.FullScan {
			r.meter.ChargeScanExamined(1)
		}
		if where != nil && !eval.Matches(where, rec.Doc) {
			continue
		}
		size := len(types.Object(rec.Doc).Canonical())
		r.meter.ChargeDocumentRead(size)
		if !fn(match{rec: rec, size: size}) {
			return false
		}
	}
	return true
}

func (r *QueryResult) candidatesByPartition() map[string][]index.Candidate {
	if r.plan.Index.FullScan {
		return nil
	}
	out := make(map[string][]index.Candidate)
	for _, c := range r.plan.Index.Candidates {
		out[c.Key.Partition] = append(out[c.Key.Partition], c)
	}
	return out
}

// window returns how many leading matches to skip and how many to return
// after that; take is -1 when unbounded.
func window(stmt *parser.SelectStatement) (skip int64, take int64) {
	take = -1
	if stmt.Offset != nil {
		skip = *stmt.Offset
	}
	if stmt.Limit != nil {
		take = *stmt.Limit
	}
	if stmt.Top != nil && (take < 0 || *stmt.Top < take) {
		take = *stmt.Top
	}
	return skip, take
}
