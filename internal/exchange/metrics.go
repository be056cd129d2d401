package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_exchange_requests_total",
			Help: "Total number of exchange-adapter requests by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botledger_exchange_request_duration_seconds",
			Help:    "Duration of exchange-adapter requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	PaperOrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_exchange_paper_orders_total",
			Help: "Total number of paper orders by outcome",
		},
		[]string{"side", "status"},
	)
)
