// Package metrics exposes Prometheus collectors for the FRE lookup service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded against fre_archive_fetch_total.
const (
	OutcomeSuccess = "success"
	OutcomeStatus  = "status"
	OutcomeError   = "error"
)

// Cache results recorded against fre_archive_cache_total.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
	CacheError = "error"
)

var (
	archiveFetchTotal          *prometheus.CounterVec
	archiveBytesTotal          *prometheus.CounterVec
	archiveCacheTotal          *prometheus.CounterVec
	entriesExtractedTotal      *prometheus.CounterVec
	rowsMatchedTotal           prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	relayThrottledTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiveFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fre_archive_fetch_total",
				Help: "Total number of archive download attempts, labeled by path and outcome.",
			},
			[]string{"path", "outcome"},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fre_archive_bytes_total",
				Help: "Total number of archive bytes downloaded, labeled by path.",
			},
			[]string{"path"},
		)

		archiveCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fre_archive_cache_total",
				Help: "Archive cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		entriesExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fre_entries_extracted_total",
				Help: "CSV entries processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rowsMatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fre_rows_matched_total",
				Help: "Total number of CSV rows matched against a requested CNPJ.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		relayThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fre_relay_throttled_total",
				Help: "Relay requests rejected by the per-client rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveArchiveFetch records one download attempt over the given path.
func ObserveArchiveFetch(path, outcome string, bytesFetched int) {
	Init()
	archiveFetchTotal.WithLabelValues(path, outcome).Inc()
	if bytesFetched > 0 {
		archiveBytesTotal.WithLabelValues(path).Add(float64(bytesFetched))
	}
}

// ObserveCache records a cache lookup result.
func ObserveCache(result string) {
	Init()
	archiveCacheTotal.WithLabelValues(result).Inc()
}

// ObserveEntry records the outcome of processing one archive entry.
func ObserveEntry(outcome string) {
	Init()
	entriesExtractedTotal.WithLabelValues(outcome).Inc()
}

// ObserveRowsMatched adds n to the matched row counter.
func ObserveRowsMatched(n int) {
	if n <= 0 {
		return
	}
	Init()
	rowsMatchedTotal.Add(float64(n))
}

// ObserveRelayThrottled counts one rejected relay request.
func ObserveRelayThrottled() {
	Init()
	relayThrottledTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
