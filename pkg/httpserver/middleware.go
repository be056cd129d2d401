package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Prometheus metrics
var apiRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "botledger_api_request_duration_seconds",
		Help:    "Management API request duration by route and status code",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "code"},
)

// requestLogger records API requests. Routes are labelled by their chi
// pattern so bot ids do not explode metric cardinality.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			apiRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

			logger.Debug("api-request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("request-id", middleware.GetReqID(r.Context())))
		})
	}
}
