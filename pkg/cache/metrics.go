package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_cache_lookups_total",
			Help: "Total number of cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)

	SetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botledger_cache_sets_total",
			Help: "Total number of accepted cache writes",
		},
		[]string{"cache"},
	)
)
