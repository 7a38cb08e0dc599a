// Package store holds documents grouped by logical partition. Writers to one
// partition serialize on that partition's lock; queries read immutable
// partition snapshots.
package store

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/internal/wal"
	"github.com/arkilian/docrune/pkg/types"
)

// Indexer is notified synchronously of every record published or retracted.
// Both methods return the number of index entries they touched.
type Indexer interface {
	OnInsert(rec *partition.Record) int
	OnDelete(rec *partition.Record) int
}

// Journal receives every mutation before it is applied.
type Journal interface {
	Append(ctx context.Context, m wal.Mutation) (uint64, error)
}

// Validator checks a document before it is stored.
type Validator interface {
	Validate(doc types.Document) error
}

// Options configures a Store.
type Options struct {
	// PartitionKeyPath locates the partition key, e.g. "/foodGroup".
	PartitionKeyPath string
	Pricing          cost.Pricing
	Indexer          Indexer
	Journal          Journal
	Validator        Validator
	Logger           *zap.Logger
	Now              func() time.Time
}

// ItemResponse is the outcome of a single-document operation.
type ItemResponse struct {
	Document      types.Document
	Key           types.Key
	PartitionKey  types.Value
	RequestCharge float64
	IndexEntries  int
}

type writeMode int

const (
	modeInsert writeMode = iota
	modeReplace
	modeUpsert
)

func (m writeMode) String() string {
	switch m {
	case modeInsert:
		return "insert"
	case modeReplace:
		return "replace"
	default:
		return "upsert"
	}
}

// Store is the document store.
type Store struct {
	pkPath  types.FieldPath
	pkRaw   string
	pricing cost.Pricing
	journal Journal
	valid   Validator
	logger  *zap.Logger
	now     func() time.Time

	indexMu sync.RWMutex
	indexer Indexer

	// writers hold writeMu shared; Freeze holds it exclusively
	writeMu sync.RWMutex

	mu         sync.RWMutex
	partitions map[string]*partition.Partition

	seq   atomic.Uint64
	count atomic.Int64
}

// New creates an empty store.
func New(opts Options) (*Store, error) {
	if opts.PartitionKeyPath == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidPartitionKey, "partition key path is required")
	}
	pkPath, err := types.ParsePath(opts.PartitionKeyPath)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidPartitionKey,
			fmt.Sprintf("invalid partition key path %q: %v", opts.PartitionKeyPath, err))
	}
	if opts.Pricing == (cost.Pricing{}) {
		opts.Pricing = cost.DefaultPricing()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		pkPath:     pkPath,
		pkRaw:      opts.PartitionKeyPath,
		pricing:    opts.Pricing,
		journal:    opts.Journal,
		valid:      opts.Validator,
		logger:     opts.Logger,
		now:        opts.Now,
		indexer:    opts.Indexer,
		partitions: make(map[string]*partition.Partition),
	}, nil
}

// SetIndexer installs the indexer notified of writes. It is used when the
// index manager is built after the store it reads from.
func (s *Store) SetIndexer(ix Indexer) {
	s.indexMu.Lock()
	s.indexer = ix
	s.indexMu.Unlock()
}

// SetJournal installs the journal. Mutations applied before this call are
// not journaled, which is what replay needs.
func (s *Store) SetJournal(j Journal) {
	s.writeMu.Lock()
	s.journal = j
	s.writeMu.Unlock()
}

func (s *Store) currentIndexer() Indexer {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.indexer
}

// PartitionKeyPath returns the path the partition key is read from.
func (s *Store) PartitionKeyPath() types.FieldPath { return s.pkPath }

// PartitionKeyOf resolves the partition key of doc. The value must be a
// defined scalar.
func (s *Store) PartitionKeyOf(doc types.Document) (types.Value, error) {
	pk := s.pkPath.Resolve(doc)
	if !pk.IsDefined() {
		return types.Value{}, errors.NewValidationError(errors.CodeInvalidPartitionKey,
			fmt.Sprintf("document has no value at partition key path %s", s.pkRaw))
	}
	if !pk.IsScalar() {
		return types.Value{}, errors.NewValidationError(errors.CodeInvalidPartitionKey,
			fmt.Sprintf("partition key at %s must be a scalar, got %s", s.pkRaw, pk.Kind()))
	}
	if err := checkPartitionKey(pk); err != nil {
		return types.Value{}, err
	}
	return pk, nil
}

// checkPartitionKey rejects string keys that are not valid UTF-8. Partitions
// are keyed by the canonical JSON form, which would fold such keys together.
func checkPartitionKey(pk types.Value) error {
	if pk.Kind() == types.KindString && !utf8.ValidString(pk.AsString()) {
		return errors.NewValidationError(errors.CodeInvalidPartitionKey, "partition key must be valid UTF-8")
	}
	return nil
}

func checkID(id string) error {
	if !utf8.ValidString(id) {
		return errors.NewValidationError(errors.CodeInvalidDocument, "document id must be valid UTF-8")
	}
	return nil
}

// partitionFor returns the partition for pk, creating it on first use.
func (s *Store) partitionFor(pk types.Value) *partition.Partition {
	key := pk.Canonical()

	s.mu.RLock()
	p, ok := s.partitions[key]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if p, ok := s.partitions[key]; ok {
		return p
	}
	p = partition.New(pk)
	s.partitions[key] = p
	return p
}

// lookupPartition finds no partition for a key that could not have been
// stored, so a scoped query on such a key matches nothing.
func (s *Store) lookupPartition(pk types.Value) (*partition.Partition, bool) {
	if checkPartitionKey(pk) != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[pk.Canonical()]
	return p, ok
}

// Insert stores a new document. It fails with a DuplicateKey error when the
// (partition key, id) pair already exists.
func (s *Store) Insert(ctx context.Context, doc types.Document) (*ItemResponse, error) {
	return s.put(ctx, doc, modeInsert, false)
}

// Replace overwrites an existing document, keeping its position in the
// partition. It fails with NotFound when the document does not exist.
func (s *Store) Replace(ctx context.Context, doc types.Document) (*ItemResponse, error) {
	return s.put(ctx, doc, modeReplace, false)
}

// Upsert inserts or replaces.
func (s *Store) Upsert(ctx context.Context, doc types.Document) (*ItemResponse, error) {
	return s.put(ctx, doc, modeUpsert, false)
}

func (s *Store) put(ctx context.Context, doc types.Document, mode writeMode, replay bool) (*ItemResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	id, ok := doc.ID()
	if !ok {
		return nil, errors.NewValidationError(errors.CodeInvalidDocument, "document requires a non-empty string id")
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	pk, err := s.PartitionKeyOf(doc)
	if err != nil {
		return nil, err
	}
	if s.valid != nil && !replay {
		if err := s.valid.Validate(doc); err != nil {
			return nil, err
		}
	}

	s.writeMu.RLock()
	defer s.writeMu.RUnlock()

	p := s.partitionFor(pk)
	p.Lock()
	defer p.Unlock()

	old, exists := p.LookupLocked(id)
	switch {
	case exists && mode == modeInsert:
		return nil, errors.DuplicateKey(p.Key(), id)
	case !exists && mode == modeReplace:
		return nil, errors.NotFound(p.Key(), id)
	}

	stored := doc.Clone()
	if !replay || !stored[types.FieldRID].IsDefined() {
		if exists {
			stored[types.FieldRID] = old.Doc[types.FieldRID]
		} else {
			stored[types.FieldRID] = types.String(uuid.NewString())
		}
	}
	if !replay || !stored[types.FieldTimestamp].IsDefined() {
		stored[types.FieldTimestamp] = types.Number(float64(s.now().Unix()))
	}

	op := wal.OpInsert
	if exists {
		op = wal.OpReplace
	}
	if s.journal != nil && !replay {
		if _, err := s.journal.Append(ctx, wal.Mutation{Op: op, PartitionKey: pk, ID: id, Document: stored}); err != nil {
			return nil, fmt.Errorf("store: journal %s %s: %w", op, id, err)
		}
	}

	key := types.Key{Partition: p.Key(), ID: id}
	ix := s.currentIndexer()
	entries := 0
	var rec *partition.Record
	if exists {
		rec = &partition.Record{Seq: old.Seq, Key: key, PartitionKey: pk, Doc: stored}
		p.ReplaceLocked(rec)
		if ix != nil {
			entries += ix.OnDelete(old)
			entries += ix.OnInsert(rec)
		}
	} else {
		rec = &partition.Record{Seq: s.seq.Add(1), Key: key, PartitionKey: pk, Doc: stored}
		p.AppendLocked(rec)
		if ix != nil {
			entries += ix.OnInsert(rec)
		}
		observability.DocumentsStored.Set(float64(s.count.Add(1)))
	}

	charge := s.pricing.WriteCharge(entries, len(types.Object(stored).Canonical()))
	if !replay {
		observability.ObserveCharge(mode.String(), charge)
	}
	s.logger.Debug("document written",
		zap.String("op", string(op)),
		zap.String("partition", p.Key()),
		zap.String("id", id),
		zap.Int("index_entries", entries),
		zap.Float64("ru", charge),
	)

	return &ItemResponse{
		Document:      stored.Clone(),
		Key:           key,
		PartitionKey:  pk,
		RequestCharge: charge,
		IndexEntries:  entries,
	}, nil
}

// Delete removes a document and retracts its index entries. It fails with
// NotFound when the document does not exist.
func (s *Store) Delete(ctx context.Context, pk types.Value, id string) (*ItemResponse, error) {
	return s.delete(ctx, pk, id, false)
}

func (s *Store) delete(ctx context.Context, pk types.Value, id string, replay bool) (*ItemResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	if err := checkPartitionKey(pk); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()

	p, ok := s.lookupPartition(pk)
	if !ok {
		return nil, errors.NotFound(pk.Canonical(), id)
	}
	p.Lock()
	defer p.Unlock()

	old, exists := p.LookupLocked(id)
	if !exists {
		return nil, errors.NotFound(p.Key(), id)
	}
	if s.journal != nil && !replay {
		if _, err := s.journal.Append(ctx, wal.Mutation{Op: wal.OpDelete, PartitionKey: pk, ID: id}); err != nil {
			return nil, fmt.Errorf("store: journal delete %s: %w", id, err)
		}
	}

	p.RemoveLocked(id)
	entries := 0
	if ix := s.currentIndexer(); ix != nil {
		entries = ix.OnDelete(old)
	}
	observability.DocumentsStored.Set(float64(s.count.Add(-1)))

	charge := s.pricing.WriteCharge(entries, len(types.Object(old.Doc).Canonical()))
	if !replay {
		observability.ObserveCharge("delete", charge)
	}
	s.logger.Debug("document deleted",
		zap.String("partition", p.Key()),
		zap.String("id", id),
		zap.Float64("ru", charge),
	)
	return &ItemResponse{
		Document:      old.Doc.Clone(),
		Key:           old.Key,
		PartitionKey:  pk,
		RequestCharge: charge,
		IndexEntries:  entries,
	}, nil
}

// Get returns a copy of the document stored under (pk, id).
func (s *Store) Get(ctx context.Context, pk types.Value, id string) (types.Document, error) {
	resp, err := s.ReadItem(ctx, pk, id)
	if err != nil {
		return nil, err
	}
	return resp.Document, nil
}

// ReadItem is a point read that also reports its request charge.
func (s *Store) ReadItem(ctx context.Context, pk types.Value, id string) (*ItemResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	if err := checkPartitionKey(pk); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	p, ok := s.lookupPartition(pk)
	if !ok {
		return nil, errors.NotFound(pk.Canonical(), id)
	}
	rec, ok := p.Lookup(id)
	if !ok {
		return nil, errors.NotFound(p.Key(), id)
	}
	charge := s.pricing.PointReadCharge(len(types.Object(rec.Doc).Canonical()))
	observability.ObserveCharge("read", charge)
	return &ItemResponse{
		Document:      rec.Doc.Clone(),
		Key:           rec.Key,
		PartitionKey:  rec.PartitionKey,
		RequestCharge: charge,
	}, nil
}

// Apply replays a journaled mutation. Inserts of existing documents replace
// them and deletes of missing documents are ignored, so replaying a journal
// over a snapshot that already contains some of its entries is safe.
func (s *Store) Apply(ctx context.Context, m wal.Mutation) error {
	switch m.Op {
	case wal.OpInsert, wal.OpReplace:
		_, err := s.put(ctx, m.Document, modeUpsert, true)
		return err
	case wal.OpDelete:
		_, err := s.delete(ctx, m.PartitionKey, m.ID, true)
		if errors.GetCode(err) == errors.CodeNotFound {
			return nil
		}
		return err
	default:
		return fmt.Errorf("store: unknown journal op %q", m.Op)
	}
}

// ScanPartition returns a restartable sequence over one partition in
// insertion order. Each iteration reads a snapshot taken when it starts.
func (s *Store) ScanPartition(pk types.Value) iter.Seq[*partition.Record] {
	return func(yield func(*partition.Record) bool) {
		p, ok := s.lookupPartition(pk)
		if !ok {
			return
		}
		for _, rec := range p.Snapshot().Records {
			if !yield(rec) {
				return
			}
		}
	}
}

// ScanAll returns a sequence over every partition, partitions in partition
// key order and documents in insertion order. Each partition is snapshotted
// when the scan reaches it.
func (s *Store) ScanAll() iter.Seq[*partition.Record] {
	return func(yield func(*partition.Record) bool) {
		for _, p := range s.Partitions() {
			for _, rec := range p.Snapshot().Records {
				if !yield(rec) {
					return
				}
			}
		}
	}
}

// Partition returns the partition for pk.
func (s *Store) Partition(pk types.Value) (*partition.Partition, bool) {
	p, ok := s.lookupPartition(pk)
	if !ok || p.Len() == 0 {
		return nil, false
	}
	return p, true
}

// Partitions returns the non-empty partitions ordered by partition key.
func (s *Store) Partitions() []*partition.Partition {
	s.mu.RLock()
	out := make([]*partition.Partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		out = append(out, p)
	}
	s.mu.RUnlock()

	live := out[:0]
	for _, p := range out {
		if p.Len() > 0 {
			live = append(live, p)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		c := types.Compare(live[i].PartitionKey(), live[j].PartitionKey())
		if c != 0 {
			return c < 0
		}
		return live[i].Key() < live[j].Key()
	})
	return live
}

// Count returns the number of stored documents.
func (s *Store) Count() int64 { return s.count.Load() }

// Freeze runs fn while no write is in flight. Index backfills and snapshot
// exports use it to see the whole store at one point in time.
func (s *Store) Freeze(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}
