// Package metrics provides the Prometheus metrics of the discovery service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// MetricsNamespace is the namespace for all discovery metrics.
	MetricsNamespace = "discovery"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// Feed cache metrics
	FeedRequestsTotal *prometheus.CounterVec
	TokenRenewals     prometheus.Counter
	CacheEntries      prometheus.Gauge

	// Search metrics
	SearchesTotal         *prometheus.CounterVec
	SearchDurationSeconds prometheus.Histogram

	// Access filter metrics
	ItemsExcludedTotal      prometheus.Counter
	PermissionFailuresTotal prometheus.Counter
}

// New creates the metrics on a fresh registry, with Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.initFeedMetrics(factory)
	m.initSearchMetrics(factory)
	m.initAccessMetrics(factory)

	return m
}

func (m *Metrics) initFeedMetrics(factory promauto.Factory) {
	m.FeedRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "feed",
			Name:      "requests_total",
			Help:      "Feed requests by cache result (hit, renewed, miss, error)",
		},
		[]string{"format", "result"},
	)

	m.TokenRenewals = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "feed",
			Name:      "token_renewals_total",
			Help:      "Expired tokens renewed because the recomputed fingerprint matched",
		},
	)

	m.CacheEntries = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "feed",
			Name:      "cache_entries",
			Help:      "Feeds held in the in-memory token store",
		},
	)
}

func (m *Metrics) initSearchMetrics(factory promauto.Factory) {
	m.SearchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Index searches by outcome",
		},
		[]string{"outcome"},
	)

	m.SearchDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of index searches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)
}

func (m *Metrics) initAccessMetrics(factory promauto.Factory) {
	m.ItemsExcludedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "access",
			Name:      "items_excluded_total",
			Help:      "Hits removed because anonymous users cannot read them",
		},
	)

	m.PermissionFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "access",
			Name:      "permission_lookup_failures_total",
			Help:      "Permission lookups that failed; the item was excluded",
		},
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry so other collectors can share it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSearch implements elasticsearch.Observer.
func (m *Metrics) ObserveSearch(outcome string, elapsed time.Duration) {
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	m.SearchDurationSeconds.Observe(elapsed.Seconds())
}

// ItemsExcluded implements access.Recorder.
func (m *Metrics) ItemsExcluded(n int) {
	m.ItemsExcludedTotal.Add(float64(n))
}

// PermissionLookupFailed implements access.Recorder.
func (m *Metrics) PermissionLookupFailed() {
	m.PermissionFailuresTotal.Inc()
}

// FeedServed records one feed response.
func (m *Metrics) FeedServed(format, result string) {
	m.FeedRequestsTotal.WithLabelValues(format, result).Inc()
}

// TokenRenewed records a sliding-window renewal.
func (m *Metrics) TokenRenewed() {
	m.TokenRenewals.Inc()
}

// CacheSize records the store size.
func (m *Metrics) CacheSize(n int) {
	m.CacheEntries.Set(float64(n))
}
