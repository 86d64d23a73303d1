// Package metrics exposes Prometheus collectors for the harvester service.
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

var (
	articlesScrapedTotal       *prometheus.CounterVec
	articlesSavedTotal         prometheus.Counter
	sourceFailuresTotal        *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	publishedAtStrategyTotal   *prometheus.CounterVec
	droppedItemsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		articlesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_articles_scraped_total",
				Help: "Total number of articles extracted, labeled by agency.",
			},
			[]string{"agency"},
		)

		articlesSavedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_articles_saved_total",
				Help: "Total number of articles newly stored.",
			},
		)

		sourceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_source_failures_total",
				Help: "Total number of per-source failures, labeled by agency.",
			},
			[]string{"agency"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_run_duration_seconds",
				Help:    "Histogram of full harvest run durations, labeled by mode.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		)

		publishedAtStrategyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_published_at_strategy_total",
				Help: "How often each timestamp extraction strategy resolved published_at.",
			},
			[]string{"strategy"},
		)

		droppedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_dropped_items_total",
				Help: "Items dropped before storage, labeled by reason.",
			},
			[]string{"reason"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScraped adds extracted article counts for an agency.
func ObserveScraped(agency string, count int) {
	if count > 0 {
		articlesScrapedTotal.WithLabelValues(agency).Add(float64(count))
	}
}

// ObserveSaved adds newly stored article counts.
func ObserveSaved(count int) {
	if count > 0 {
		articlesSavedTotal.Add(float64(count))
	}
}

// ObserveSourceFailure increments the failure counter for an agency.
func ObserveSourceFailure(agency string) {
	sourceFailuresTotal.WithLabelValues(agency).Inc()
}

// ObserveRun records the duration of a complete harvest run.
func ObserveRun(mode string, duration time.Duration) {
	runDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObservePublishedAtStrategy counts which fallback strategy resolved a timestamp.
func ObservePublishedAtStrategy(strategy string) {
	publishedAtStrategyTotal.WithLabelValues(strategy).Inc()
}

// ObserveDropped counts an item dropped before storage.
func ObserveDropped(reason string) {
	droppedItemsTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
