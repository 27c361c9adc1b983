package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalog_feed"

// Metrics holds the Prometheus counters, histograms, and gauges for the feed client.
type Metrics struct {
	// Feed cache and loader metrics.
	FeedLoads         *prometheus.CounterVec // labels: outcome={loaded,skipped,exhausted,stale,failed}
	ItemsMerged       prometheus.Counter
	DuplicatesDropped prometheus.Counter
	CacheEntries      prometheus.Gauge
	CacheEvictions    prometheus.Counter

	// Catalog backend metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,network_error,server_error}
	FetchDuration prometheus.Histogram

	// Geolocation metrics.
	GeoRequests        *prometheus.CounterVec // labels: outcome={ready,permission_denied,unavailable,timeout,unsupported,late}
	GeoAcquireDuration prometheus.Histogram
	NearbySearches     *prometheus.CounterVec // labels: outcome={loaded,location_unavailable,failed}

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: method={forward,reverse}, result={hit,miss}

	// Analytics event metrics.
	EventsPublished    prometheus.Counter
	EventPublishErrors prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.FeedLoads,
		m.ItemsMerged,
		m.DuplicatesDropped,
		m.CacheEntries,
		m.CacheEvictions,
		m.FetchRequests,
		m.FetchDuration,
		m.GeoRequests,
		m.GeoAcquireDuration,
		m.NearbySearches,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.EventsPublished,
		m.EventPublishErrors,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}

	return &Metrics{
		FeedLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_loads_total",
			Help:      help("Feed page load attempts by outcome."),
		}, []string{"outcome"}),
		ItemsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_merged_total",
			Help:      help("Listings appended to cached feeds."),
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      help("Listings dropped because their id was already in the feed."),
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      help("Query keys currently held in the feed cache."),
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      help("Feed entries evicted to respect the cache size."),
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      help("Catalog page requests by outcome."),
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      help("Catalog page request duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeoRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_requests_total",
			Help:      help("Location acquisitions by outcome."),
		}, []string{"outcome"}),
		GeoAcquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geo_acquire_duration_seconds",
			Help:      help("Time from location request to ready or error."),
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		NearbySearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nearby_searches_total",
			Help:      help("Nearby searches by outcome."),
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      help("Geocoding API requests by method and outcome."),
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      help("Geocoding cache lookups by method and result."),
		}, []string{"method", "result"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      help("Load events handed to the analytics publisher."),
		}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      help("Load events the analytics publisher rejected."),
		}),
	}
}
