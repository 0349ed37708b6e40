package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search engine metrics.
var (
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_searches_total",
			Help:      "Engine searches by role and outcome",
		},
		[]string{"role", "outcome"}, // hit / miss / error
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_search_duration_seconds",
			Help:      "Engine search duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"role"},
	)

	BackendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Vector backend calls by role, hop and status",
		},
		[]string{"role", "hop", "status"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "result_cache_entries",
			Help:      "Entries in the result cache",
		},
		[]string{"role"},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_evictions_total",
			Help:      "Result cache entries removed by reason",
		},
		[]string{"role", "reason"}, // ttl / capacity
	)

	EnrichmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_enrichment_total",
			Help:      "Per-concept image enrichment outcomes",
		},
		[]string{"outcome"}, // images / empty / unavailable / error
	)

	ImageQuotaRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "image_quota_remaining",
			Help:      "Image API requests left in the current 24h window",
		},
	)

	FailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Searches served by the backup engine",
		},
	)

	SearchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_failures_total",
			Help:      "Searches that found no operational engine",
		},
	)

	TelemetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_queue_depth",
			Help:      "Telemetry records waiting for the drain worker",
		},
	)
)

// Health sampler gauges.
var (
	HealthCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "health_cpu_percent", Help: "Sampled CPU load percent",
	})
	HealthMemoryMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "health_memory_mb", Help: "Sampled resident memory in MB",
	})
	HealthErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "health_error_rate", Help: "Failed searches over total searches",
	})
	HealthStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "health_status", Help: "0 nominal, 1 degraded, 2 critical",
	})
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers engine, manager and health metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		SearchesTotal, SearchDuration, BackendCallsTotal, CacheEntries, CacheEvictionsTotal,
		EnrichmentTotal, ImageQuotaRemaining, FailoversTotal, SearchFailuresTotal,
		TelemetryQueueDepth, HealthCPUPercent, HealthMemoryMB, HealthErrorRate, HealthStatus,
	)
	searchMetricsRegistered = true
}
