package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "points_ledger_build_info",
			Help: "Build information of the points ledger",
		},
		[]string{"version", "commit"},
	)

	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_ledger_refresh_total",
			Help: "Total number of program refresh cycles",
		},
		[]string{"program", "status"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "points_ledger_refresh_duration_seconds",
			Help:    "Duration of program refresh cycles",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
		[]string{"program"},
	)

	SnapshotEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "points_ledger_snapshot_entries",
			Help: "Number of entries in the published snapshot",
		},
		[]string{"program", "token"},
	)

	SnapshotAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "points_ledger_snapshot_built_timestamp_seconds",
			Help: "Unix time the published snapshot was built",
		},
		[]string{"program"},
	)

	OracleRealTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "points_ledger_oracle_real_total",
			Help: "Last real total published by a program oracle",
		},
		[]string{"oracle"},
	)

	OracleFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_ledger_oracle_fetch_errors_total",
			Help: "Total number of failed oracle fetches",
		},
		[]string{"oracle"},
	)

	LedgerPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_ledger_ledger_pages_fetched_total",
			Help: "Total number of ledger source pages fetched",
		},
		[]string{"project", "kind"},
	)

	LedgerRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_ledger_ledger_records_skipped_total",
			Help: "Ledger records skipped because of a malformed shape",
		},
		[]string{"project"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "points_ledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
