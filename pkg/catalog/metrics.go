package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "catalog_cache_hits_total",
		Help:      "Catalog loads answered from the in-memory cache.",
	})
	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "catalog_cache_misses_total",
		Help:      "Catalog loads that required a source fetch.",
	})
	metricLegacyFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "catalog_legacy_fallbacks_total",
		Help:      "Loads served by the legacy source after a primary failure.",
	})
	metricEnrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "catalog_enrichment_failures_total",
		Help:      "Enrichment calls that failed (loads still succeed).",
	})
	metricRefreshBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "catalog_refresh_batches_total",
		Help:      "Debounced forced-refresh batches issued.",
	})
	metricRefreshIDs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "catalog_refresh_ids_total",
		Help:      "Ids submitted for forced refresh.",
	})
	metricRefreshInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludex",
		Name:      "catalog_refresh_inflight_ids",
		Help:      "Ids currently awaiting a forced-refresh result.",
	})
)
