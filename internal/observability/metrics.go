package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrune",
			Name:      "request_units_total",
			Help:      "Total request units charged",
		},
		[]string{"operation"}, // query, read, insert, replace, upsert, delete
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrune",
			Name:      "queries_total",
			Help:      "Total queries executed by plan and scope",
		},
		[]string{"plan", "scope", "status"}, // plan: index|scan, scope: single|cross
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docrune",
			Name:      "query_duration_seconds",
			Help:      "Query execution duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"plan"},
	)

	DocumentsExaminedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docrune",
			Name:      "documents_examined_total",
			Help:      "Documents examined by queries",
		},
	)

	PartitionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docrune",
			Name:      "partitions_pruned_total",
			Help:      "Partitions skipped by summary pruning",
		},
	)

	DocumentsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docrune",
			Name:      "documents_stored",
			Help:      "Documents currently held by the store",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docrune",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrune",
			Name:      "snapshots_total",
			Help:      "Snapshot exports by outcome",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register registers the collectors with reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			RequestUnitsTotal,
			QueriesTotal,
			QueryDuration,
			DocumentsExaminedTotal,
			PartitionsPrunedTotal,
			DocumentsStored,
			HTTPRequestDuration,
			SnapshotsTotal,
		)
	})
}

// ObserveCharge adds a charge to the request unit counter.
func ObserveCharge(operation string, ru float64) {
	RequestUnitsTotal.WithLabelValues(operation).Add(ru)
}
