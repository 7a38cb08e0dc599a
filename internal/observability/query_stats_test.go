package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPredicateConcurrent(t *testing.T) {
	qs := NewQueryStats(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				qs.RecordPredicate("foodGroup", "=", true)
				qs.RecordPredicate("version", ">", false)
				qs.RecordOrderBy("tags.name", false)
			}
		}()
	}
	wg.Wait()

	top := qs.TopPaths(10)
	if len(top) != 3 {
		t.Fatalf("expected 3 paths, got %d", len(top))
	}
	for _, s := range top {
		if s.Frequency != 1000 {
			t.Errorf("expected frequency 1000 for %s, got %d", s.Path, s.Frequency)
		}
	}
}

func TestRecommendations(t *testing.T) {
	qs := NewQueryStats(time.Hour)
	for i := 0; i < 5; i++ {
		qs.RecordPredicate("foodGroup", "=", true)
	}
	for i := 0; i < 3; i++ {
		qs.RecordPredicate("version", "=", false)
	}
	qs.RecordOrderBy("tags.name", false)

	recs := qs.Recommendations(10, 2)
	if len(recs) != 1 || recs[0].Path != "version" {
		t.Fatalf("recommendations = %+v, want only version", recs)
	}
	if recs[0].Operators["="] != 3 {
		t.Errorf("operators = %v", recs[0].Operators)
	}

	// returned stats are copies
	recs[0].Operators["="] = 99
	if qs.Recommendations(1, 1)[0].Operators["="] != 3 {
		t.Error("Recommendations leaked internal state")
	}

	qs.Forget("version")
	if got := qs.Recommendations(10, 1); len(got) != 1 || got[0].Path != "tags.name" {
		t.Errorf("after Forget got %+v", got)
	}
}

func TestPrune(t *testing.T) {
	qs := NewQueryStats(time.Minute)
	now := time.Now()
	qs.now = func() time.Time { return now.Add(-2 * time.Minute) }
	qs.RecordPredicate("old", "=", false)
	qs.now = func() time.Time { return now }
	qs.RecordPredicate("fresh", "=", false)

	qs.Prune()
	top := qs.TopPaths(10)
	if len(top) != 1 || top[0].Path != "fresh" {
		t.Errorf("after prune got %+v", top)
	}
}

func TestObserveCharge(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	before := testutil.ToFloat64(RequestUnitsTotal.WithLabelValues("insert"))
	ObserveCharge("insert", 5.5)
	if got := testutil.ToFloat64(RequestUnitsTotal.WithLabelValues("insert")) - before; got != 5.5 {
		t.Errorf("insert RU delta = %v, want 5.5", got)
	}
}
