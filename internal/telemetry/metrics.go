// Package telemetry provides application-level observability for the NuGet
// registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<NGR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Package push and download counters
//   - Upstream mirror request counters and latency
//   - Retention pruning counter
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v3/registration/:id/index.json)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as package ids or version strings. Package
// metrics deliberately carry no package-id label for the same reason.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/nuget-registry/nuget-registry/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.PackageDownloadsTotal.Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v3/package/:id/:version/*file),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Package lifecycle metrics.
//
// PackagePushesTotal is a CounterVec with label {result} incremented once per
// push attempt. result is one of "success", "already_exists", "invalid".
//
// Example PromQL queries:
//   - Push rate:            rate(package_pushes_total[5m])
//   - Rejection ratio:      sum(rate(package_pushes_total{result!="success"}[1h])) / sum(rate(package_pushes_total[1h]))
//
// PackageDownloadsTotal is a plain Counter incremented on each .nupkg download.
//
// Example PromQL queries:
//   - Download rate:        rate(package_downloads_total[1h])
var (
	PackagePushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "package_pushes_total",
			Help: "Total number of package push attempts, by result.",
		},
		[]string{"result"},
	)

	PackageDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "package_downloads_total",
			Help: "Total number of package archive downloads.",
		},
	)
)

// Upstream mirror metrics — recorded by the fallback client.
//
// MirrorRequestsTotal is a CounterVec with labels {source, operation, outcome}.
// source is the configured package source host; operation is one of
// "list_versions", "list_packages", "download"; outcome is "hit", "miss", or
// "error".  An alert on rate(mirror_requests_total{outcome="error"}[30m]) > 0
// is recommended to catch upstream outages early.
//
// MirrorRequestDuration is a Histogram over individual upstream calls using
// the default Prometheus buckets (5 ms–10 s).
//
// Example PromQL queries:
//   - Error rate by source:  rate(mirror_requests_total{outcome="error"}[1h])
//   - p95 upstream latency:  histogram_quantile(0.95, rate(mirror_request_duration_seconds_bucket[1h]))
var (
	MirrorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_requests_total",
			Help: "Total number of upstream mirror requests, by source, operation, and outcome.",
		},
		[]string{"source", "operation", "outcome"},
	)

	MirrorRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirror_request_duration_seconds",
			Help:    "Duration of individual upstream mirror requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RetentionPrunedTotal is a plain Counter incremented once per version
// hard-deleted by the retention policy after a push.
//
// Example PromQL queries:
//   - Pruning rate:  rate(retention_pruned_versions_total[24h])
var RetentionPrunedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "retention_pruned_versions_total",
		Help: "Total number of package versions removed by the retention policy.",
	},
)

// SearchReindexDuration is a Histogram observed once per complete run of the
// background search reindex job.
var SearchReindexDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "search_reindex_duration_seconds",
		Help:    "Duration of a full background search reindex run.",
		Buckets: prometheus.DefBuckets,
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <NGR_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
