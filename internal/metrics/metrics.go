// Package metrics exposes the pipeline's counters on a private
// prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aisecdocs/docpipe/internal/cache"
	"github.com/aisecdocs/docpipe/internal/httpc"
)

// Sources feed the gauge funcs; each is read at scrape time.
type Sources struct {
	CacheStats         func() cache.Stats
	PoolStats          func() httpc.PoolStats
	Breakers           func() []httpc.BreakerStatus
	SecurityViolations func() int64
}

// Metrics wraps the prometheus collectors for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Incremented by the serving layer.
	DocumentsServed *prometheus.CounterVec // labels: type, outcome
	Discoveries     *prometheus.CounterVec // labels: source
}

// New builds and registers all collectors.
func New(src Sources) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		DocumentsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipe",
			Name:      "documents_served_total",
			Help:      "Document requests by type and outcome.",
		}, []string{"type", "outcome"}),
		Discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipe",
			Name:      "discoveries_total",
			Help:      "Discovery calls by result source.",
		}, []string{"source"}),
	}
	registry.MustRegister(m.DocumentsServed, m.Discoveries)

	gauge := func(name, help string, fn func() float64) {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "docpipe",
			Name:      name,
			Help:      help,
		}, fn))
	}
	// Cumulative series scrape as counters so the _total suffix holds.
	counter := func(name, help string, fn func() float64) {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "docpipe",
			Name:      name,
			Help:      help,
		}, fn))
	}

	if src.CacheStats != nil {
		stats := src.CacheStats
		counter("cache_hits_total", "Cumulative cache hits.", func() float64 { return float64(stats().Hits) })
		counter("cache_misses_total", "Cumulative cache misses.", func() float64 { return float64(stats().Misses) })
		counter("cache_evictions_total", "Cumulative LRU evictions.", func() float64 { return float64(stats().Evictions) })
		counter("cache_expirations_total", "Cumulative TTL expirations.", func() float64 { return float64(stats().Expires) })
		gauge("cache_entries", "Live cache entries.", func() float64 { return float64(stats().CurrentSize) })
		gauge("cache_memory_bytes", "Stored bytes, post-compression.", func() float64 { return float64(stats().MemoryUsageBytes) })
		gauge("cache_hit_rate", "Hits over total accesses.", func() float64 { return stats().HitRate })
	}
	if src.PoolStats != nil {
		stats := src.PoolStats
		gauge("pool_active_requests", "Requests currently in flight.", func() float64 { return float64(stats().ActiveRequests) })
		gauge("pool_peak_requests", "Peak concurrent requests.", func() float64 { return float64(stats().PeakRequests) })
		counter("pool_requests_total", "Cumulative requests.", func() float64 { return float64(stats().TotalRequests) })
		counter("pool_failed_requests_total", "Cumulative failed requests.", func() float64 { return float64(stats().FailedRequests) })
		gauge("pool_utilization", "Active requests over pool ceiling.", func() float64 { return stats().PoolUtilization })
		gauge("pool_avg_response_seconds", "EMA of response time.", func() float64 { return stats().AvgResponseTime.Seconds() })
		gauge("pool_max_conns", "Current pool connection ceiling.", func() float64 { return float64(stats().MaxConns) })
	}
	if src.Breakers != nil {
		fn := src.Breakers
		gauge("breakers_open", "Host breakers currently not closed.", func() float64 {
			var open float64
			for _, b := range fn() {
				if b.State != "closed" {
					open++
				}
			}
			return open
		})
	}
	if src.SecurityViolations != nil {
		fn := src.SecurityViolations
		counter("security_violations_total", "Requests rejected by filename validation.", func() float64 { return float64(fn()) })
	}
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
