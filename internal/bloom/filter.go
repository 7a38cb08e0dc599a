// Package bloom provides the membership filter used by partition summaries
// to rule out partitions that cannot hold a value.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter with murmur3 double hashing. There are no false
// negatives: once added, Contains always reports true. Removal is not
// supported, so callers rebuild a filter when too many members went stale.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with the given number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a filter for the expected number of members and
// target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters returns the bit count m = -n*ln(p)/ln(2)^2 and hash
// count k = (m/n)*ln(2) for n expected items and false positive rate p.
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add adds an item to the filter.
func (f *Filter) Add(item []byte) {
	h1, h2 := murmur3.Sum128(item)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// Contains reports whether item may have been added.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// AddPair adds a (field path, canonical value) member.
func (f *Filter) AddPair(path, value string) {
	f.Add(pairKey(path, value))
}

// ContainsPair reports whether a (field path, canonical value) member may
// have been added.
func (f *Filter) ContainsPair(path, value string) bool {
	return f.Contains(pairKey(path, value))
}

func pairKey(path, value string) []byte {
	b := make([]byte, 0, len(path)+1+len(value))
	b = append(b, path...)
	b = append(b, 0)
	return append(b, value...)
}

// Reset clears every bit.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bits {
		f.bits[i] = 0
	}
	f.count = 0
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int { return int(f.numBits) }

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int { return int(f.numHashes) }

// Count returns the number of items added since the last reset.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FalsePositiveRate estimates the current false positive rate as
// (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
