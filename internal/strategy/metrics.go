package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	SignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_strategy_signals_total",
			Help: "Total number of pressure signals detected",
		},
		[]string{"strategy", "signal"},
	)

	EntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_strategy_entries_total",
			Help: "Total number of position entries by outcome",
		},
		[]string{"strategy", "side", "outcome"},
	)

	ExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_strategy_exits_total",
			Help: "Total number of position exits by reason",
		},
		[]string{"strategy", "reason"},
	)

	LiquidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_strategy_liquidations_total",
			Help: "Total number of stop-time liquidations by result",
		},
		[]string{"strategy", "result"},
	)
)
