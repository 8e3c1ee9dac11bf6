package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "cache_hits_total",
		Help:      "Number of cache lookups that returned a stored entry.",
	})
	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "cache_misses_total",
		Help:      "Number of cache lookups that found no usable entry.",
	})
	metricCacheSets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "cache_sets_total",
		Help:      "Number of entries written to the cache.",
	})
	metricCacheDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "cache_deletes_total",
		Help:      "Number of entries deleted from the cache.",
	})
	metricCacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "cache_errors_total",
		Help:      "Number of cache operations that failed.",
	})
	metricCacheStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "cache_state_changes_total",
		Help:      "Number of health-probe driven connection state transitions.",
	})
)
