package partition

import (
	"fmt"
	"testing"

	"github.com/arkilian/docrune/pkg/types"
)

func TestNewRouterRejectsZeroRanges(t *testing.T) {
	if _, err := NewRouter(0); err == nil {
		t.Fatal("expected error for zero ranges")
	}
}

func TestRangeOfIsStable(t *testing.T) {
	router, err := NewRouter(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pk := types.String("Baby Foods")
	first := router.RangeOfValue(pk)
	for i := 0; i < 10; i++ {
		if got := router.RangeOfValue(pk); got != first {
			t.Fatalf("range changed: %d then %d", first, got)
		}
	}
	if first < 0 || first >= 8 {
		t.Errorf("range %d out of bounds", first)
	}
}

func TestGroupSpreadsPartitions(t *testing.T) {
	router, _ := NewRouter(4)
	var keys []string
	for i := 0; i < 200; i++ {
		keys = append(keys, types.String(fmt.Sprintf("group-%d", i)).Canonical())
	}
	groups := router.Group(keys)
	if len(groups) != 4 {
		t.Errorf("expected all 4 ranges used, got %d", len(groups))
	}
	total := 0
	for _, id := range RangeIDs(groups) {
		total += len(groups[id])
		for _, k := range groups[id] {
			if router.RangeOf(k) != id {
				t.Errorf("key %s grouped into %d but routes to %d", k, id, router.RangeOf(k))
			}
		}
	}
	if total != len(keys) {
		t.Errorf("grouped %d keys, want %d", total, len(keys))
	}
}
