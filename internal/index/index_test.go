package index

import (
	"context"
	"iter"
	"sort"
	"sync"
	"testing"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/partition"
	"github.com/arkilian/docrune/pkg/types"
)

var seq uint64

func record(pk, id string, fields map[string]any) *partition.Record {
	doc := types.Document{"id": types.String(id), "foodGroup": types.String(pk)}
	for k, raw := range fields {
		v, err := types.FromAny(raw)
		if err != nil {
			panic(err)
		}
		doc[k] = v
	}
	seq++
	pkv := types.String(pk)
	return &partition.Record{
		Seq:          seq,
		Key:          types.Key{Partition: pkv.Canonical(), ID: id},
		PartitionKey: pkv,
		Doc:          doc,
	}
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Key.ID
	}
	sort.Strings(out)
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newTestManager(t *testing.T, paths ...string) *Manager {
	t.Helper()
	m, err := NewManager(ModeConsistent, paths, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func loadVersions(m *Manager) {
	m.OnInsert(record("Sweets", "1", map[string]any{"version": 1}))
	m.OnInsert(record("Sweets", "2", map[string]any{"version": 2}))
	m.OnInsert(record("Dairy", "3", map[string]any{"version": 2}))
	m.OnInsert(record("Dairy", "4", map[string]any{"version": 3}))
	m.OnInsert(record("Dairy", "5", map[string]any{"version": "2"}))
	m.OnInsert(record("Dairy", "6", map[string]any{"version": nil}))
	m.OnInsert(record("Dairy", "7", map[string]any{}))
}

func TestLookup_Predicates(t *testing.T) {
	m := newTestManager(t, "version")
	loadVersions(m)
	path := types.MustParsePath("version")

	tests := []struct {
		name string
		pred Predicate
		want []string
	}{
		{"eq number", Eq(types.Number(2)), []string{"2", "3"}},
		{"eq string", Eq(types.String("2")), []string{"5"}},
		{"eq null", Eq(types.Null()), []string{"6"}},
		{"lt", Predicate{Op: OpLt, Values: []types.Value{types.Number(2)}}, []string{"1"}},
		{"le", Predicate{Op: OpLe, Values: []types.Value{types.Number(2)}}, []string{"1", "2", "3"}},
		{"gt", Predicate{Op: OpGt, Values: []types.Value{types.Number(2)}}, []string{"4"}},
		{"ge", Predicate{Op: OpGe, Values: []types.Value{types.Number(2)}}, []string{"2", "3", "4"}},
		{"between", Predicate{Op: OpBetween, Values: []types.Value{types.Number(1), types.Number(2)}}, []string{"1", "2", "3"}},
		{"between mixed kinds", Predicate{Op: OpBetween, Values: []types.Value{types.Number(1), types.String("9")}}, []string{}},
		{"in", Predicate{Op: OpIn, Values: []types.Value{types.Number(1), types.Number(3), types.Number(1)}}, []string{"1", "4"}},
		{"defined", Predicate{Op: OpDefined}, []string{"1", "2", "3", "4", "5", "6"}},
		{"gt string excludes numbers", Predicate{Op: OpGt, Values: []types.Value{types.String("")}}, []string{"5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := m.Lookup(path, tt.pred, "")
			if !ok {
				t.Fatal("expected index on version")
			}
			if got := ids(res.Candidates); !equalIDs(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLookup_MatchesPredicateSemantics(t *testing.T) {
	m := newTestManager(t, "version")
	recs := []*partition.Record{
		record("A", "1", map[string]any{"version": 1}),
		record("A", "2", map[string]any{"version": "x"}),
		record("A", "3", map[string]any{"version": true}),
		record("A", "4", map[string]any{"version": []any{1, 2}}),
		record("A", "5", map[string]any{"version": 1.5}),
	}
	for _, r := range recs {
		m.OnInsert(r)
	}
	path := types.MustParsePath("version")
	preds := []Predicate{
		Eq(types.Number(1)),
		Eq(types.Array(types.Number(1), types.Number(2))),
		{Op: OpLt, Values: []types.Value{types.Number(1.5)}},
		{Op: OpGe, Values: []types.Value{types.Bool(false)}},
		{Op: OpLe, Values: []types.Value{types.String("y")}},
		{Op: OpGt, Values: []types.Value{types.Array()}},
	}
	for _, pred := range preds {
		res, _ := m.Lookup(path, pred, "")
		var want []string
		for _, r := range recs {
			if pred.Matches(path.Resolve(r.Doc)) {
				want = append(want, r.Key.ID)
			}
		}
		sort.Strings(want)
		if want == nil {
			want = []string{}
		}
		if got := ids(res.Candidates); !equalIDs(got, want) {
			t.Errorf("%s %v: index %v, evaluation %v", pred.Op, pred.Values, got, want)
		}
	}
}

func TestLookup_PartitionScope(t *testing.T) {
	m := newTestManager(t, "version")
	loadVersions(m)
	path := types.MustParsePath("version")
	dairy := types.String("Dairy").Canonical()

	res, _ := m.Lookup(path, Eq(types.Number(2)), dairy)
	if got := ids(res.Candidates); !equalIDs(got, []string{"3"}) {
		t.Errorf("scoped eq = %v", got)
	}
	res, _ = m.Lookup(path, Predicate{Op: OpGe, Values: []types.Value{types.Number(1)}}, dairy)
	if got := ids(res.Candidates); !equalIDs(got, []string{"3", "4"}) {
		t.Errorf("scoped range = %v", got)
	}
}

func TestLookup_NoIndex(t *testing.T) {
	m := newTestManager(t, "version")
	if _, ok := m.Lookup(types.MustParsePath("description"), Eq(types.String("x")), ""); ok {
		t.Error("expected no index for description")
	}
}

func TestOnDeleteRetracts(t *testing.T) {
	m := newTestManager(t, "version", "tags.name")
	r := record("Sweets", "1", map[string]any{"version": 1})
	if n := m.OnInsert(r); n != 1 {
		t.Fatalf("OnInsert touched %d entries, want 1 (tags.name missing)", n)
	}
	if n := m.OnDelete(r); n != 1 {
		t.Fatalf("OnDelete touched %d entries, want 1", n)
	}
	res, _ := m.Lookup(types.MustParsePath("version"), Predicate{Op: OpDefined}, "")
	if len(res.Candidates) != 0 {
		t.Errorf("expected empty index, got %v", ids(res.Candidates))
	}
}

func TestWalkOrder(t *testing.T) {
	m := newTestManager(t, "version")
	loadVersions(m)
	_, values, ok := m.Walk(types.MustParsePath("version"), false)
	if !ok {
		t.Fatal("expected index")
	}
	for i := 1; i < len(values); i++ {
		if types.Compare(values[i-1], values[i]) > 0 {
			t.Fatalf("ascending walk out of order at %d: %s > %s", i, values[i-1], values[i])
		}
	}
	_, values, _ = m.Walk(types.MustParsePath("version"), true)
	for i := 1; i < len(values); i++ {
		if types.Compare(values[i-1], values[i]) < 0 {
			t.Fatalf("descending walk out of order at %d", i)
		}
	}
}

type fakeSource struct {
	mu      sync.RWMutex
	records []*partition.Record
	frozen  int
}

func (f *fakeSource) ScanAll() iter.Seq[*partition.Record] {
	return func(yield func(*partition.Record) bool) {
		for _, r := range f.records {
			if !yield(r) {
				return
			}
		}
	}
}

func (f *fakeSource) Freeze(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen++
	return fn()
}

func TestCreateIndexBackfills(t *testing.T) {
	m := newTestManager(t)
	src := &fakeSource{records: []*partition.Record{
		record("Sweets", "1", map[string]any{"description": "Candy"}),
		record("Baby Foods", "2", map[string]any{"description": "Puree"}),
		record("Baby Foods", "3", nil),
	}}
	m.Attach(src)

	info, err := m.CreateIndex(context.Background(), "/description")
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if info.Path != "description" || info.Entries != 2 || info.Spec != "/description/?" {
		t.Errorf("info = %+v", info)
	}
	if src.frozen != 1 {
		t.Errorf("backfill should run frozen, froze %d times", src.frozen)
	}

	_, err = m.CreateIndex(context.Background(), "description")
	if errors.GetCode(err) != errors.CodeIndexExists {
		t.Errorf("second create: got %v, want INDEX_EXISTS", err)
	}

	if err := m.DropIndex("description"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if err := m.DropIndex("description"); errors.GetCode(err) != errors.CodeIndexNotFound {
		t.Errorf("second drop: got %v, want INDEX_NOT_FOUND", err)
	}
	if len(m.Indexes()) != 0 {
		t.Errorf("indexes = %+v", m.Indexes())
	}
}

func TestCreateIndexInvalidPath(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex(context.Background(), "a..b")
	if errors.GetCode(err) != errors.CodeInvalidQuery {
		t.Errorf("got %v, want invalid query", err)
	}
}

func TestModeNone(t *testing.T) {
	m, err := NewManager(ModeNone, []string{"version"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := m.OnInsert(record("A", "1", map[string]any{"version": 1})); n != 0 {
		t.Errorf("ModeNone indexed %d entries", n)
	}
	if _, err := m.CreateIndex(context.Background(), "version"); err == nil {
		t.Error("CreateIndex should fail in ModeNone")
	}
}
