package bloom

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every added pair is reported present", prop.ForAll(
		func(paths []string, value string) bool {
			f := NewWithEstimates(len(paths)+1, 0.01)
			for _, p := range paths {
				f.AddPair(p, value)
			}
			for _, p := range paths {
				if !f.ContainsPair(p, value) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.AddPair("version", fmt.Sprint(i))
	}
	falsePositives := 0
	for i := 1000; i < 11000; i++ {
		if f.ContainsPair("version", fmt.Sprint(i)) {
			falsePositives++
		}
	}
	if rate := float64(falsePositives) / 10000; rate > 0.03 {
		t.Errorf("false positive rate %.4f exceeds 0.03", rate)
	}
	if f.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", f.Count())
	}
}

func TestFilter_PairsDoNotCollideAcrossPaths(t *testing.T) {
	f := New(4096, 5)
	f.AddPair("a", "bc")
	if f.ContainsPair("ab", "c") {
		t.Error("pair keys should separate path and value")
	}
	f.Reset()
	if f.ContainsPair("a", "bc") || f.Count() != 0 {
		t.Error("Reset should clear the filter")
	}
}

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	if bits < 9000 || bits > 10000 {
		t.Errorf("bits = %d, want about 9586", bits)
	}
	if hashes != 7 {
		t.Errorf("hashes = %d, want 7", hashes)
	}
	bits, hashes = OptimalParameters(0, 5)
	if bits < 64 || hashes < 1 {
		t.Errorf("defaults not applied: %d bits, %d hashes", bits, hashes)
	}
}
