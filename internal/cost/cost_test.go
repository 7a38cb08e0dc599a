package cost

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arkilian/docrune/pkg/types"
)

func TestMeter_ScanCostsMoreThanIndex(t *testing.T) {
	p := DefaultPricing()

	scan := NewMeter(p)
	scan.ChargeQueryBase()
	scan.ChargeScanExamined(1000)
	scan.ChargeDocumentRead(200)

	idx := NewMeter(p)
	idx.ChargeQueryBase()
	idx.ChargeIndexSeeks(1)
	idx.ChargeIndexCandidates(1)
	idx.ChargeDocumentRead(200)

	assert.Greater(t, scan.Total(), idx.Total())
	assert.Greater(t, idx.Total(), 0.0)
}

func TestMeter_ConcurrentCharges(t *testing.T) {
	m := NewMeter(Pricing{PerScanExamined: 1})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ChargeScanExamined(2)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100.0, m.Total())
	assert.Equal(t, 100.0, m.Breakdown().ScanExamined)
}

func TestPricing_Writes(t *testing.T) {
	p := Pricing{WriteBase: 5, PerIndexWrite: 0.5, PerKB: 1}
	assert.Equal(t, 6.5, p.WriteCharge(3, 0))
	assert.Equal(t, 7.0, p.WriteCharge(0, 2048))
	assert.Equal(t, 1.0, Pricing{PointRead: 1}.PointReadCharge(512))
}

func TestIndexSpecs(t *testing.T) {
	assert.Equal(t, "/foodGroup/?", SingleIndexSpec(types.MustParsePath("foodGroup")))
	assert.Equal(t, "/tags/0/name/?", SingleIndexSpec(types.MustParsePath("tags[0].name")))
	assert.Equal(t, "/tags/name ASC, /version DESC", CompositeIndexSpec(
		[]types.FieldPath{types.MustParsePath("tags.name"), types.MustParsePath("version")},
		[]bool{false, true},
	))
}

func TestIndexMetrics_FinalizeAndRender(t *testing.T) {
	m := &IndexMetrics{
		Clauses: []ClauseMetric{
			{Clause: `foodGroup = "Baby Foods"`, Kind: ClauseFilter, Path: "foodGroup", IndexExists: true, IndexUsed: true, Candidates: 1},
			{Clause: "tags.name ASC", Kind: ClauseOrderBy, Path: "tags.name", FullScan: false},
		},
		UtilizedSingleIndexes:     []IndexSpec{{Spec: "/foodGroup/?"}},
		PotentialCompositeIndexes: []IndexSpec{{Spec: "/tags/name ASC, /version ASC"}},
		DocumentsExamined:         10,
		DocumentsReturned:         1,
	}
	m.Finalize()
	assert.Equal(t, ImpactHigh, m.PotentialCompositeIndexes[0].Impact)

	out := m.String()
	assert.True(t, strings.HasPrefix(out, "Index Utilization Information"))
	assert.Contains(t, out, "Index Spec: /foodGroup/?")
	assert.Contains(t, out, `[filter] foodGroup = "Baby Foods": index (1 candidates)`)
	assert.Contains(t, out, "Documents examined: 10, returned: 1")

	c, ok := m.Clause("tags.name ASC")
	assert.True(t, ok)
	assert.Equal(t, ClauseOrderBy, c.Kind)
}
