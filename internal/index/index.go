// Package index maintains per-path secondary indexes over the document
// store and chooses between index-driven and full-scan plans.
package index

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/pkg/types"
)

const btreeDegree = 32

// Mode is the indexing mode of a container.
type Mode string

const (
	// ModeConsistent maintains the included paths synchronously with writes.
	ModeConsistent Mode = "consistent"
	// ModeNone keeps no secondary indexes; every query scans.
	ModeNone Mode = "none"
)

// Source is the store an index manager backfills from.
type Source interface {
	ScanAll() iter.Seq[*partition.Record]
	Freeze(fn func() error) error
}

// Candidate identifies a document produced by an index lookup.
type Candidate struct {
	Key types.Key
	Seq uint64
}

// LookupResult is the outcome of one index lookup.
type LookupResult struct {
	Candidates []Candidate
	Seeks      int
}

type entry struct {
	value types.Value
	key   types.Key
	seq   uint64
}

func entryLess(a, b entry) bool {
	if c := types.Compare(a.value, b.value); c != 0 {
		return c < 0
	}
	if a.key.Partition != b.key.Partition {
		return a.key.Partition < b.key.Partition
	}
	return a.key.ID < b.key.ID
}

// pathIndex is a sorted mapping from (value, partition, id) to the record's
// sequence number for one field path.
type pathIndex struct {
	path types.FieldPath

	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

func newPathIndex(path types.FieldPath) *pathIndex {
	return &pathIndex{path: path, tree: btree.NewG(btreeDegree, entryLess)}
}

func (ix *pathIndex) insert(rec *partition.Record) int {
	v := ix.path.Resolve(rec.Doc)
	if !v.IsDefined() {
		return 0
	}
	ix.mu.Lock()
	ix.tree.ReplaceOrInsert(entry{value: v, key: rec.Key, seq: rec.Seq})
	ix.mu.Unlock()
	return 1
}

func (ix *pathIndex) remove(rec *partition.Record) int {
	v := ix.path.Resolve(rec.Doc)
	if !v.IsDefined() {
		return 0
	}
	ix.mu.Lock()
	_, removed := ix.tree.Delete(entry{value: v, key: rec.Key})
	ix.mu.Unlock()
	if !removed {
		return 0
	}
	return 1
}

func (ix *pathIndex) len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// lookup collects the entries matching pred. A non-empty scope restricts
// results to one partition; equality seeks then use the (value, partition)
// prefix directly.
func (ix *pathIndex) lookup(pred Predicate, scope string) LookupResult {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var res LookupResult
	emit := func(e entry) {
		if scope == "" || e.key.Partition == scope {
			res.Candidates = append(res.Candidates, Candidate{Key: e.key, Seq: e.seq})
		}
	}

	seekEq := func(v types.Value) {
		res.Seeks++
		if !v.IsDefined() {
			return
		}
		pivot := entry{value: v, key: types.Key{Partition: scope}}
		ix.tree.AscendGreaterOrEqual(pivot, func(e entry) bool {
			if !types.Equal(e.value, v) || (scope != "" && e.key.Partition != scope) {
				return false
			}
			emit(e)
			return true
		})
	}

	switch pred.Op {
	case OpEq:
		if len(pred.Values) == 1 {
			seekEq(pred.Values[0])
		}
	case OpIn:
		seen := make(map[string]bool, len(pred.Values))
		for _, v := range pred.Values {
			c := v.Canonical()
			if seen[c] {
				continue
			}
			seen[c] = true
			seekEq(v)
		}
	case OpDefined:
		res.Seeks++
		ix.tree.Ascend(func(e entry) bool {
			emit(e)
			return true
		})
	default:
		res.Seeks++
		lo, hi, loIncl, hiIncl, ok := pred.bounds()
		if !ok {
			break
		}
		ix.tree.AscendGreaterOrEqual(entry{value: lo}, func(e entry) bool {
			if e.value.Kind() != lo.Kind() {
				return false
			}
			if hi.IsDefined() {
				c := types.Compare(e.value, hi)
				if c > 0 || (c == 0 && !hiIncl) {
					return false
				}
			}
			if !loIncl && types.Equal(e.value, lo) {
				return true
			}
			emit(e)
			return true
		})
	}
	return res
}

// walk yields entries in value order, grouping equal values.
func (ix *pathIndex) walk(desc bool) []entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]entry, 0, ix.tree.Len())
	visit := func(e entry) bool {
		out = append(out, e)
		return true
	}
	if desc {
		ix.tree.Descend(visit)
	} else {
		ix.tree.Ascend(visit)
	}
	return out
}

// Manager owns the secondary indexes of one container. It implements the
// store's Indexer so that every write updates the indexes before the write
// returns.
type Manager struct {
	mode   Mode
	logger *zap.Logger

	mu      sync.RWMutex
	indexes map[string]*pathIndex
	order   []string
	source  Source
}

// NewManager creates a manager with indexes on the given paths. In ModeNone
// paths are ignored.
func NewManager(mode Mode, paths []string, logger *zap.Logger) (*Manager, error) {
	if mode == "" {
		mode = ModeConsistent
	}
	if mode != ModeConsistent && mode != ModeNone {
		return nil, fmt.Errorf("index: unknown indexing mode %q", mode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		mode:    mode,
		logger:  logger,
		indexes: make(map[string]*pathIndex),
	}
	if mode == ModeNone {
		return m, nil
	}
	for _, raw := range paths {
		p, err := types.ParsePath(raw)
		if err != nil {
			return nil, errors.InvalidQuery("invalid index path %q: %v", raw, err)
		}
		key := p.String()
		if _, ok := m.indexes[key]; ok {
			continue
		}
		m.indexes[key] = newPathIndex(p)
		m.order = append(m.order, key)
	}
	return m, nil
}

// Attach sets the store that CreateIndex backfills from.
func (m *Manager) Attach(src Source) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
}

// Mode returns the indexing mode.
func (m *Manager) Mode() Mode { return m.mode }

// OnInsert adds rec to every index whose path is present in the document.
func (m *Manager) OnInsert(rec *partition.Record) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ix := range m.indexes {
		n += ix.insert(rec)
	}
	return n
}

// OnDelete retracts rec from every index.
func (m *Manager) OnDelete(rec *partition.Record) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ix := range m.indexes {
		n += ix.remove(rec)
	}
	return n
}

// HasIndex reports whether path is indexed.
func (m *Manager) HasIndex(path types.FieldPath) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[path.String()]
	return ok
}

// Lookup returns the candidates satisfying pred at path, restricted to the
// partition with canonical key scope when scope is non-empty. ok is false
// when no index covers the path; callers then fall back to a scan.
func (m *Manager) Lookup(path types.FieldPath, pred Predicate, scope string) (LookupResult, bool) {
	m.mu.RLock()
	ix, ok := m.indexes[path.String()]
	m.mu.RUnlock()
	if !ok {
		return LookupResult{}, false
	}
	return ix.lookup(pred, scope), true
}

// Walk returns the candidates indexed at path in value order, ascending or
// descending. Entries with equal values are adjacent.
func (m *Manager) Walk(path types.FieldPath, desc bool) ([]Candidate, []types.Value, bool) {
	m.mu.RLock()
	ix, ok := m.indexes[path.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	entries := ix.walk(desc)
	cands := make([]Candidate, len(entries))
	values := make([]types.Value, len(entries))
	for i, e := range entries {
		cands[i] = Candidate{Key: e.key, Seq: e.seq}
		values[i] = e.value
	}
	return cands, values, true
}

// Info describes one index.
type Info struct {
	Path    string `json:"path"`
	Spec    string `json:"spec"`
	Entries int    `json:"entries"`
}

// Indexes lists the indexes in creation order.
func (m *Manager) Indexes() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, key := range m.order {
		ix := m.indexes[key]
		out = append(out, Info{Path: key, Spec: cost.SingleIndexSpec(ix.path), Entries: ix.len()})
	}
	return out
}

// CreateIndex adds an index on path and backfills it from the attached
// store while writes are held off.
func (m *Manager) CreateIndex(ctx context.Context, raw string) (Info, error) {
	if m.mode == ModeNone {
		return Info{}, errors.NewIndexError(errors.CodeIndexNotFound, "indexing mode is none")
	}
	path, err := types.ParsePath(raw)
	if err != nil {
		return Info{}, errors.InvalidQuery("invalid index path %q: %v", raw, err)
	}
	key := path.String()

	m.mu.RLock()
	_, exists := m.indexes[key]
	src := m.source
	m.mu.RUnlock()
	if exists {
		return Info{}, errors.NewIndexError(errors.CodeIndexExists, fmt.Sprintf("index on %s already exists", key))
	}

	ix := newPathIndex(path)
	install := func() error {
		if src != nil {
			n := 0
			for rec := range src.ScanAll() {
				if n%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				ix.insert(rec)
				n++
			}
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.indexes[key]; ok {
			return errors.NewIndexError(errors.CodeIndexExists, fmt.Sprintf("index on %s already exists", key))
		}
		m.indexes[key] = ix
		m.order = append(m.order, key)
		return nil
	}

	if src != nil {
		err = src.Freeze(install)
	} else {
		err = install()
	}
	if err != nil {
		return Info{}, err
	}
	m.logger.Info("index created", zap.String("path", key), zap.Int("entries", ix.len()))
	return Info{Path: key, Spec: cost.SingleIndexSpec(path), Entries: ix.len()}, nil
}

// DropIndex removes the index on path.
func (m *Manager) DropIndex(raw string) error {
	path, err := types.ParsePath(raw)
	if err != nil {
		return errors.InvalidQuery("invalid index path %q: %v", raw, err)
	}
	key := path.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[key]; !ok {
		return errors.NewIndexError(errors.CodeIndexNotFound, fmt.Sprintf("no index on %s", key))
	}
	delete(m.indexes, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Info("index dropped", zap.String("path", key))
	return nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool { return c[i].Key.Less(c[j].Key) })
}
