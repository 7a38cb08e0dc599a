package cost

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkilian/docrune/pkg/types"
)

// ClauseKind distinguishes filter clauses from order-by clauses.
type ClauseKind string

const (
	ClauseFilter  ClauseKind = "filter"
	ClauseOrderBy ClauseKind = "order_by"
)

// Impact grades how much an index helps or would help.
type Impact string

const (
	ImpactHigh Impact = "High"
	ImpactLow  Impact = "Low"
)

// ClauseMetric describes how one clause was served.
type ClauseMetric struct {
	Clause      string     `json:"clause"`
	Kind        ClauseKind `json:"kind"`
	Path        string     `json:"path,omitempty"`
	IndexExists bool       `json:"index_exists"`
	IndexUsed   bool       `json:"index_used"`
	FullScan    bool       `json:"full_scan"`
	Candidates  int        `json:"candidates,omitempty"`
}

// IndexSpec names a single or composite index.
type IndexSpec struct {
	Spec   string `json:"spec"`
	Impact Impact `json:"impact"`
}

// IndexMetrics reports which indexes a query used and which would have
// helped.
type IndexMetrics struct {
	Clauses []ClauseMetric `json:"clauses"`

	UtilizedSingleIndexes     []IndexSpec `json:"utilized_single_indexes"`
	PotentialSingleIndexes    []IndexSpec `json:"potential_single_indexes"`
	UtilizedCompositeIndexes  []IndexSpec `json:"utilized_composite_indexes"`
	PotentialCompositeIndexes []IndexSpec `json:"potential_composite_indexes"`

	FullScan          bool  `json:"full_scan"`
	IndexCandidates   int64 `json:"index_candidates"`
	DocumentsExamined int64 `json:"documents_examined"`
	DocumentsReturned int64 `json:"documents_returned"`
	PartitionsScanned int   `json:"partitions_scanned"`
	PartitionsPruned  int   `json:"partitions_pruned"`
}

// SingleIndexSpec renders the index spec for a path, e.g. /tags/name/?.
func SingleIndexSpec(path types.FieldPath) string {
	var b strings.Builder
	for _, step := range path {
		b.WriteByte('/')
		if step.IsIndex {
			b.WriteString(strconv.Itoa(step.Index))
		} else {
			b.WriteString(step.Name)
		}
	}
	b.WriteString("/?")
	return b.String()
}

// CompositeIndexSpec renders a composite index spec such as
// "/tags/name ASC, /version ASC".
func CompositeIndexSpec(paths []types.FieldPath, desc []bool) string {
	parts := make([]string, len(paths))
	for i, p := range paths {
		spec := strings.TrimSuffix(SingleIndexSpec(p), "/?")
		dir := "ASC"
		if i < len(desc) && desc[i] {
			dir = "DESC"
		}
		parts[i] = spec + " " + dir
	}
	return strings.Join(parts, ", ")
}

// Finalize grades recommendations once the document counts are known. A
// potential index is High impact when the query examined more documents
// than it returned.
func (m *IndexMetrics) Finalize() {
	impact := ImpactLow
	if m.DocumentsExamined > m.DocumentsReturned {
		impact = ImpactHigh
	}
	for i := range m.PotentialSingleIndexes {
		m.PotentialSingleIndexes[i].Impact = impact
	}
	for i := range m.PotentialCompositeIndexes {
		m.PotentialCompositeIndexes[i].Impact = impact
	}
	for i := range m.UtilizedSingleIndexes {
		m.UtilizedSingleIndexes[i].Impact = ImpactHigh
	}
	for i := range m.UtilizedCompositeIndexes {
		m.UtilizedCompositeIndexes[i].Impact = ImpactHigh
	}
}

// Clause returns the metric for the clause with the given text.
func (m *IndexMetrics) Clause(text string) (ClauseMetric, bool) {
	for _, c := range m.Clauses {
		if c.Clause == text {
			return c, true
		}
	}
	return ClauseMetric{}, false
}

// String renders the report for terminal display.
func (m *IndexMetrics) String() string {
	var b strings.Builder
	b.WriteString("Index Utilization Information\n")
	writeSpecs(&b, "Utilized Single Indexes", m.UtilizedSingleIndexes)
	writeSpecs(&b, "Potential Single Indexes", m.PotentialSingleIndexes)
	writeSpecs(&b, "Utilized Composite Indexes", m.UtilizedCompositeIndexes)
	writeSpecs(&b, "Potential Composite Indexes", m.PotentialCompositeIndexes)

	b.WriteString("Clauses\n")
	for _, c := range m.Clauses {
		how := "full scan"
		switch {
		case c.IndexUsed:
			how = "index"
		case !c.FullScan:
			how = "residual"
		}
		fmt.Fprintf(&b, "  [%s] %s: %s", c.Kind, c.Clause, how)
		if c.Kind == ClauseFilter && c.IndexUsed {
			fmt.Fprintf(&b, " (%d candidates)", c.Candidates)
		}
		if !c.IndexExists && c.Path != "" {
			b.WriteString(" (no index)")
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Documents examined: %d, returned: %d\n", m.DocumentsExamined, m.DocumentsReturned)
	fmt.Fprintf(&b, "Partitions scanned: %d, pruned: %d\n", m.PartitionsScanned, m.PartitionsPruned)
	return b.String()
}

func writeSpecs(b *strings.Builder, title string, specs []IndexSpec) {
	fmt.Fprintf(b, "  %s\n", title)
	for _, s := range specs {
		fmt.Fprintf(b, "    Index Spec: %s\n    Index Impact Score: %s\n    ---\n", s.Spec, s.Impact)
	}
}
