// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerProductsWrittenTotal   *prometheus.CounterVec
	crawlerErrorsTotal            *prometheus.CounterVec
	crawlerPassDurationSeconds    prometheus.Histogram
	crawlerLastPassProducts       prometheus.Gauge
	crawlerPassesTotal            *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerFetchRetriesTotal      prometheus.Counter
	crawlerNotificationsSentTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of catalog pages fetched, labeled by page kind and status.",
			},
			[]string{"kind", "status"},
		)

		crawlerProductsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_products_written_total",
				Help: "Total number of product rows accepted by a sink.",
			},
			[]string{"sink"},
		)

		crawlerErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_errors_total",
				Help: "Total number of recoverable errors, labeled by pass stage.",
			},
			[]string{"stage"},
		)

		crawlerPassDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_pass_duration_seconds",
				Help:    "Histogram of full crawl pass durations.",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
		)

		crawlerLastPassProducts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_last_pass_products",
				Help: "Number of products written by the most recent pass.",
			},
		)

		crawlerPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_passes_total",
				Help: "Total number of crawl passes, labeled by outcome.",
			},
			[]string{"status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_retries_total",
				Help: "Total number of page fetches retried after a transient failure.",
			},
		)

		crawlerNotificationsSentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_notifications_total",
				Help: "Total number of operator notifications, labeled by channel and status.",
			},
			[]string{"channel", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one fetched page. kind is the pass stage that needed it.
func ObservePage(kind, status string) {
	Init()
	crawlerPagesTotal.WithLabelValues(kind, status).Inc()
}

// ObserveProductWritten counts one row accepted by sink.
func ObserveProductWritten(sink string) {
	Init()
	crawlerProductsWrittenTotal.WithLabelValues(sink).Inc()
}

// ObserveError counts one recoverable error.
func ObserveError(stage string) {
	Init()
	crawlerErrorsTotal.WithLabelValues(stage).Inc()
}

// ObservePass records the outcome of a completed pass.
func ObservePass(status string, duration time.Duration, products int) {
	Init()
	crawlerPassesTotal.WithLabelValues(status).Inc()
	if status != "ok" {
		return
	}
	crawlerPassDurationSeconds.Observe(duration.Seconds())
	crawlerLastPassProducts.Set(float64(products))
}

// ObserveFetchRetry counts one retried fetch.
func ObserveFetchRetry() {
	Init()
	crawlerFetchRetriesTotal.Inc()
}

// ObserveNotification counts one notification attempt.
func ObserveNotification(channel, status string) {
	Init()
	crawlerNotificationsSentTotal.WithLabelValues(channel, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request counts and latencies for the status server.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
