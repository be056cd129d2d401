package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	RunningBots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "botledger_supervisor_running_bots",
		Help: "Number of bot tasks owned by the supervisor",
	})

	ReconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botledger_supervisor_reconcile_duration_seconds",
		Help:    "Duration of one reconciliation pass",
		Buckets: prometheus.DefBuckets,
	})

	ReconcileErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botledger_supervisor_reconcile_errors_total",
		Help: "Total number of failed reconciliation passes",
	})

	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_supervisor_state_transitions_total",
			Help: "Total number of bot status transitions written by runners and the supervisor",
		},
		[]string{"status"},
	)

	TickErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botledger_supervisor_tick_errors_total",
		Help: "Total number of recoverable strategy tick errors",
	})

	TickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botledger_supervisor_tick_duration_seconds",
		Help:    "Duration of one strategy tick",
		Buckets: prometheus.DefBuckets,
	})
)
