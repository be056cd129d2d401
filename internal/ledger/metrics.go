package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	OrderIntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_ledger_order_intents_total",
			Help: "Total number of order intents recorded",
		},
		[]string{"side"},
	)

	FillsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_ledger_fills_recorded_total",
			Help: "Total number of fills recorded",
		},
		[]string{"side"},
	)

	DuplicateFillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botledger_ledger_duplicate_fills_total",
		Help: "Total number of fills ignored because their exchange trade id was already recorded",
	})

	UnmatchedSellTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botledger_ledger_unmatched_sell_total",
		Help: "Total number of SELL fills whose quantity exceeded the open BUY lots",
	})
)
