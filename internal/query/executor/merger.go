package executor

import (
	"container/heap"

	"github.com/arkilian/docrune/internal/partition"
)

// match is a record that passed the filter and the canonical size it was
// charged for.
type match struct {
	rec  *partition.Record
	size int
}

// mergeByKey performs a k-way merge of per-range match lists, each already
// sorted by document key, into one list sorted by id then partition key.
// The result does not depend on the order the ranges finished in.
func mergeByKey(streams [][]match) []match {
	total := 0
	h := &keyHeap{items: make([]cursor, 0, len(streams)), streams: streams}
	for i, s := range streams {
		total += len(s)
		if len(s) > 0 {
			h.items = append(h.items, cursor{stream: i})
		}
	}
	heap.Init(h)

	out := make([]match, 0, total)
	for h.Len() > 0 {
		top := &h.items[0]
		out = append(out, streams[top.stream][top.pos])
		top.pos++
		if top.pos == len(streams[top.stream]) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return out
}

type cursor struct {
	stream int
	pos    int
}

// keyHeap is a min-heap of stream cursors ordered by the key each cursor
// points at.
type keyHeap struct {
	items   []cursor
	streams [][]match
}

func (h keyHeap) Len() int { return len(h.items) }

func (h keyHeap) Less(i, j int) bool {
	a := h.streams[h.items[i].stream][h.items[i].pos].rec.Key
	b := h.streams[h.items[j].stream][h.items[j].pos].rec.Key
	return a.Less(b)
}

func (h keyHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *keyHeap) Push(x any) { h.items = append(h.items, x.(cursor)) }

func (h *keyHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
