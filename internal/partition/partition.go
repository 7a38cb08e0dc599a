// Package partition provides the logical partition bucket that holds
// documents in insertion order, its pruning summary, and the router that
// maps logical partitions onto physical ranges.
package partition

import (
	"sort"
	"sync"

	"github.com/arkilian/docrune/pkg/types"
)

// Record is one stored document. Records are immutable once published; a
// replace publishes a new record in the same slot with the same Seq.
type Record struct {
	Seq          uint64
	Key          types.Key
	PartitionKey types.Value
	Doc          types.Document
}

// Partition is an insertion-ordered bucket of documents sharing one
// partition key value. Writers serialize on the partition's lock; readers
// take a Snapshot which is never affected by later writes.
type Partition struct {
	pk  types.Value
	key string

	mu      sync.RWMutex
	records []*Record
	byID    map[string]int

	summary *Summary
}

// New creates an empty partition for the given partition key value.
func New(pk types.Value) *Partition {
	return &Partition{
		pk:      pk,
		key:     pk.Canonical(),
		byID:    make(map[string]int),
		summary: NewSummary(0),
	}
}

// PartitionKey returns the partition key value.
func (p *Partition) PartitionKey() types.Value { return p.pk }

// Key returns the canonical encoding of the partition key.
func (p *Partition) Key() string { return p.key }

// Summary returns the pruning summary. It is only ever widened by inserts,
// so it may report values that are no longer present.
func (p *Partition) Summary() *Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.summary
}

// Lock acquires the single-writer lock.
func (p *Partition) Lock() { p.mu.Lock() }

// Unlock releases the single-writer lock.
func (p *Partition) Unlock() { p.mu.Unlock() }

// Len returns the number of live documents.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Lookup returns the live record for id. Callers must hold the lock or
// accept a point-in-time answer.
func (p *Partition) Lookup(id string) (*Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupLocked(id)
}

// LookupLocked is Lookup for callers already holding the writer lock.
func (p *Partition) LookupLocked(id string) (*Record, bool) {
	return p.lookupLocked(id)
}

func (p *Partition) lookupLocked(id string) (*Record, bool) {
	i, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return p.records[i], true
}

// AppendLocked adds a new record at the end of the partition. The caller
// holds the writer lock and has checked that the id is free.
func (p *Partition) AppendLocked(rec *Record) {
	// Appending never touches elements visible to earlier snapshots.
	p.records = append(p.records, rec)
	p.byID[rec.Key.ID] = len(p.records) - 1
	p.summary.Observe(rec.Doc)
}

// ReplaceLocked swaps the record stored for rec.Key.ID, keeping its slot.
func (p *Partition) ReplaceLocked(rec *Record) {
	i := p.byID[rec.Key.ID]
	next := make([]*Record, len(p.records), cap(p.records))
	copy(next, p.records)
	next[i] = rec
	p.records = next
	p.summary.Retract()
	p.summary.Observe(rec.Doc)
	p.maybeRebuildLocked()
}

// RemoveLocked deletes the record for id and returns it.
func (p *Partition) RemoveLocked(id string) (*Record, bool) {
	i, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	old := p.records[i]
	next := make([]*Record, 0, len(p.records)-1)
	next = append(next, p.records[:i]...)
	next = append(next, p.records[i+1:]...)
	p.records = next
	delete(p.byID, id)
	for j := i; j < len(next); j++ {
		p.byID[next[j].Key.ID] = j
	}
	p.summary.Retract()
	p.maybeRebuildLocked()
	return old, true
}

func (p *Partition) maybeRebuildLocked() {
	if !p.summary.NeedsRebuild(len(p.records)) {
		return
	}
	s := NewSummary(len(p.records))
	for _, r := range p.records {
		s.Observe(r.Doc)
	}
	p.summary = s
}

// Snapshot captures the partition's current contents.
func (p *Partition) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Snapshot{PartitionKey: p.pk, Key: p.key, Records: p.records[:len(p.records):len(p.records)]}
}

// Snapshot is an immutable view of a partition. Records are in insertion
// order, which is also ascending Seq order.
type Snapshot struct {
	PartitionKey types.Value
	Key          string
	Records      []*Record
}

// Find returns the record with the given sequence number and id, if it was
// live when the snapshot was taken.
func (s *Snapshot) Find(seq uint64, id string) (*Record, bool) {
	i := sort.Search(len(s.Records), func(i int) bool { return s.Records[i].Seq >= seq })
	if i < len(s.Records) && s.Records[i].Seq == seq && s.Records[i].Key.ID == id {
		return s.Records[i], true
	}
	return nil, false
}

// Rank returns the insertion position of a record found through Find.
func (s *Snapshot) Rank(seq uint64) int {
	return sort.Search(len(s.Records), func(i int) bool { return s.Records[i].Seq >= seq })
}
