package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// OrdersTotal tracks placements by side and final local status.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_execution_orders_total",
			Help: "Total number of orders placed through the commit protocol",
		},
		[]string{"side", "status"},
	)

	// FailuresTotal tracks commit protocol failures by kind.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_execution_failures_total",
			Help: "Total number of commit protocol failures",
		},
		[]string{"kind"},
	)

	// PlaceDurationSeconds tracks the full prepare/execute/commit latency.
	PlaceDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botledger_execution_place_duration_seconds",
		Help:    "Duration of an order placement including ledger writes",
		Buckets: prometheus.DefBuckets,
	})

	// UnreconciledFillsTotal counts exchange fills the ledger failed to record.
	UnreconciledFillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botledger_execution_unreconciled_fills_total",
		Help: "Total number of exchange fills not recorded in the ledger",
	})
)
