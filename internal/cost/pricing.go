// Package cost charges request units for store and query operations and
// assembles the index metrics report returned with every query.
package cost

import (
	"math"
	"sync"
)

// Pricing is the request unit price list.
type Pricing struct {
	QueryBase         float64
	PerDocumentRead   float64
	PerScanExamined   float64
	PerIndexCandidate float64
	PerIndexSeek      float64
	PointRead         float64
	WriteBase         float64
	PerIndexWrite     float64
	PerKB             float64
}

// DefaultPricing returns the stock price list. Examining a document in a
// full scan costs eight times more than producing an index candidate.
func DefaultPricing() Pricing {
	return Pricing{
		QueryBase:         2.0,
		PerDocumentRead:   1.0,
		PerScanExamined:   0.4,
		PerIndexCandidate: 0.05,
		PerIndexSeek:      0.2,
		PointRead:         1.0,
		WriteBase:         5.0,
		PerIndexWrite:     0.5,
		PerKB:             0.1,
	}
}

// PointReadCharge prices a read of one document by key.
func (p Pricing) PointReadCharge(sizeBytes int) float64 {
	return round(p.PointRead + p.PerKB*kb(sizeBytes))
}

// WriteCharge prices an insert, replace or delete that touched the given
// number of index entries.
func (p Pricing) WriteCharge(indexEntries, sizeBytes int) float64 {
	return round(p.WriteBase + p.PerIndexWrite*float64(indexEntries) + p.PerKB*kb(sizeBytes))
}

func kb(sizeBytes int) float64 {
	return float64(sizeBytes) / 1024
}

func round(ru float64) float64 {
	return math.Round(ru*100) / 100
}

// Breakdown itemizes a query's charge.
type Breakdown struct {
	QueryBase       float64 `json:"query_base"`
	DocumentsRead   float64 `json:"documents_read"`
	ScanExamined    float64 `json:"scan_examined"`
	IndexCandidates float64 `json:"index_candidates"`
	IndexSeeks      float64 `json:"index_seeks"`
}

// Meter accumulates the charge of one query execution. It is safe for
// concurrent use by fan-out workers, and whatever it accrued before a
// cancellation stays on it.
type Meter struct {
	pricing Pricing

	mu        sync.Mutex
	breakdown Breakdown
}

// NewMeter creates a meter for one execution.
func NewMeter(p Pricing) *Meter {
	return &Meter{pricing: p}
}

// ChargeQueryBase charges the fixed per-query cost.
func (m *Meter) ChargeQueryBase() {
	m.mu.Lock()
	m.breakdown.QueryBase += m.pricing.QueryBase
	m.mu.Unlock()
}

// ChargeDocumentRead charges for loading one matching document.
func (m *Meter) ChargeDocumentRead(sizeBytes int) {
	m.mu.Lock()
	m.breakdown.DocumentsRead += m.pricing.PerDocumentRead + m.pricing.PerKB*kb(sizeBytes)
	m.mu.Unlock()
}

// ChargeScanExamined charges for n documents examined by a full scan.
func (m *Meter) ChargeScanExamined(n int) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.breakdown.ScanExamined += m.pricing.PerScanExamined * float64(n)
	m.mu.Unlock()
}

// ChargeIndexCandidates charges for n candidates produced by index lookups.
func (m *Meter) ChargeIndexCandidates(n int) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.breakdown.IndexCandidates += m.pricing.PerIndexCandidate * float64(n)
	m.mu.Unlock()
}

// ChargeIndexSeeks charges for n index seeks.
func (m *Meter) ChargeIndexSeeks(n int) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.breakdown.IndexSeeks += m.pricing.PerIndexSeek * float64(n)
	m.mu.Unlock()
}

// Total returns the accrued charge rounded to two decimals.
func (m *Meter) Total() float64 {
	b := m.Breakdown()
	return round(b.QueryBase + b.DocumentsRead + b.ScanExamined + b.IndexCandidates + b.IndexSeeks)
}

// Breakdown returns a copy of the itemized charge.
func (m *Meter) Breakdown() Breakdown {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakdown
}
