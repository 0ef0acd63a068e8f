// Package metrics holds the Prometheus registry and the collectors shared
// across the proxy. Everything is registered at package init so collaborators
// just increment counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var Registry = prometheus.NewRegistry()

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magioproxy_cache_hits_total",
		Help: "Number of cache lookups served from memory.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magioproxy_cache_misses_total",
		Help: "Number of cache lookups that fell through to the fetch function.",
	})
	CacheSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magioproxy_cache_swept_entries_total",
		Help: "Number of expired entries physically removed from the cache.",
	})
	AuthLogins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magioproxy_auth_logins_total",
		Help: "Number of successful credential logins against the upstream API.",
	})
	AuthRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magioproxy_auth_refreshes_total",
		Help: "Number of successful token refresh exchanges.",
	})
	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magioproxy_auth_failures_total",
		Help: "Number of failed auth operations by kind.",
	}, []string{"op"})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magioproxy_http_requests_total",
		Help: "Number of handled local API requests by path and status.",
	}, []string{"path", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CacheHits,
		CacheMisses,
		CacheSweeps,
		AuthLogins,
		AuthRefreshes,
		AuthFailures,
		HTTPRequests,
	)
}
