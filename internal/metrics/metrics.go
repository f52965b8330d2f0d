package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the search and indexing collectors on a private registry, so
// several instances (tests, containers) never collide.
type Metrics struct {
	registry *prometheus.Registry

	searchRequests *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	indexedDocs    *prometheus.CounterVec
	indexedChunks  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		searchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localdocs_search_requests_total",
				Help: "Search service calls by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		searchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localdocs_search_duration_seconds",
				Help:    "Duration of search service calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		searchResults: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localdocs_search_results",
				Help:    "Number of results returned per search",
				Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
			},
			[]string{"operation"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localdocs_retries_total",
				Help: "Retried calls by error kind",
			},
			[]string{"kind"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localdocs_embedding_cache_lookups_total",
				Help: "Query embedding cache lookups by result",
			},
			[]string{"result"}, // hit, miss, error
		),
		indexedDocs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localdocs_indexed_documents_total",
				Help: "Documents processed by the indexer by outcome",
			},
			[]string{"outcome"}, // indexed, skipped, removed, failed
		),
		indexedChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "localdocs_indexed_chunks_total",
				Help: "Chunks written to the vector store",
			},
		),
	}
}

func (m *Metrics) ObserveSearch(operation, status string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(operation, status).Inc()
	m.searchDuration.WithLabelValues(operation).Observe(d.Seconds())
	if status == "ok" {
		m.searchResults.WithLabelValues(operation).Observe(float64(results))
	}
}

func (m *Metrics) Retry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Document(outcome string) {
	if m == nil {
		return
	}
	m.indexedDocs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Chunks(n int) {
	if m == nil {
		return
	}
	m.indexedChunks.Add(float64(n))
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
