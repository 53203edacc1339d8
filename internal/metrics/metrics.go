// Package metrics provides Prometheus metrics for the sync bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kissr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Webhook metrics
	notificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kissr_webhook_notifications_total",
			Help: "Total number of change notifications received",
		},
	)

	accountsNotifiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kissr_webhook_accounts_total",
			Help: "Total number of accounts fanned out from notifications",
		},
	)

	// Sync metrics
	syncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissr_sync_passes_total",
			Help: "Total synchronization passes by outcome",
		},
		[]string{"status"},
	)

	syncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kissr_sync_pass_duration_seconds",
			Help:    "Duration of a full synchronization pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	listPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissr_list_pages_total",
			Help: "Total listing pages fetched from Dropbox",
		},
		[]string{"mode"},
	)

	entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissr_entries_total",
			Help: "Listing entries by outcome",
		},
		[]string{"outcome"},
	)

	bytesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kissr_bytes_copied_total",
			Help: "Total bytes copied from Dropbox into the bucket",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kissr_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kissr_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kissr_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissr_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Dropbox API metrics
	dropboxCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kissr_dropbox_call_duration_seconds",
			Help:    "Dropbox API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotification records one webhook notification fanning out to n accounts.
func RecordNotification(accounts int) {
	notificationsTotal.Inc()
	accountsNotifiedTotal.Add(float64(accounts))
}

// RecordSyncPass records a finished synchronization pass.
func RecordSyncPass(duration time.Duration, success bool) {
	syncPassDuration.Observe(duration.Seconds())
	syncPassesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordListPage records a fetched listing page. mode is "initial" or "continue".
func RecordListPage(mode string) {
	listPagesTotal.WithLabelValues(mode).Inc()
}

// RecordEntry records the outcome of one listing entry
// ("copied", "deleted", "skipped", "failed").
func RecordEntry(outcome string) {
	entriesTotal.WithLabelValues(outcome).Inc()
}

// RecordBytesCopied adds to the copied bytes counter.
func RecordBytesCopied(n int64) {
	bytesCopied.Add(float64(n))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RecordDropboxCall records a Dropbox API call.
func RecordDropboxCall(endpoint string, duration time.Duration, success bool) {
	dropboxCallDuration.WithLabelValues(endpoint, statusLabel(success)).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
