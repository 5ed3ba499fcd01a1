package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazythumb_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Manifest database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_db_queries_total",
			Help: "Total number of manifest database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazythumb_db_query_duration_seconds",
			Help:    "Manifest database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	ManifestItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lazythumb_manifest_items",
			Help: "Number of items tracked in the manifest by materialization state",
		},
		[]string{"state"},
	)
)

// Provider metrics
var (
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_provider_requests_total",
			Help: "Total number of status source requests",
		},
		[]string{"provider", "operation", "status"},
	)
)

// Change notification metrics
var (
	SubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lazythumb_subscriptions_active",
			Help: "Number of live subscriptions by type",
		},
		[]string{"type"},
	)

	SubscriptionEmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_subscription_emissions_total",
			Help: "Total number of events delivered to subscribers",
		},
		[]string{"type"},
	)

	SubscriptionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_subscription_errors_total",
			Help: "Total number of subscriptions ended by a terminal error",
		},
		[]string{"type", "kind"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_notifications_total",
			Help: "Raw provider notifications received, by outcome (processed or coalesced)",
		},
		[]string{"type", "outcome"},
	)

	PollRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazythumb_poll_retries_total",
			Help: "Transient status read failures retried by polling subscriptions",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_thumbnail_requests_total",
			Help: "Total number of thumbnail requests by result origin",
		},
		[]string{"origin"},
	)

	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"type", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazythumb_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	ThumbnailCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_thumbnail_cache_hits_total",
			Help: "Total number of thumbnail cache hits by tier",
		},
		[]string{"tier"},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazythumb_thumbnail_cache_misses_total",
			Help: "Total number of thumbnail cache misses",
		},
	)

	ThumbnailCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazythumb_thumbnail_cache_evictions_total",
			Help: "Total number of memory tier evictions",
		},
	)

	ThumbnailCacheWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazythumb_thumbnail_cache_write_errors_total",
			Help: "Total number of failed persistent tier writes",
		},
	)

	ThumbnailCacheMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_thumbnail_cache_memory_bytes",
			Help: "Estimated bytes held by the memory tier",
		},
	)

	ThumbnailCacheMemoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_thumbnail_cache_memory_entries",
			Help: "Number of entries held by the memory tier",
		},
	)

	ThumbnailCacheDiskBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_thumbnail_cache_disk_bytes",
			Help: "Total size of the persistent tier in bytes",
		},
	)
)

// Codec metrics
var (
	CodecOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazythumb_codec_operation_duration_seconds",
			Help:    "Codec operation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	CodecErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_codec_errors_total",
			Help: "Total number of codec failures by operation",
		},
		[]string{"operation"},
	)

	ArtworkSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_artwork_source_total",
			Help: "Embedded artwork lookups by the key space that satisfied them",
		},
		[]string{"source"},
	)
)

// Filesystem retry metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazythumb_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_filesystem_operation_errors_total",
			Help: "Filesystem operation errors",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_filesystem_retry_attempts_total",
			Help: "Retries issued after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_filesystem_stale_errors_total",
			Help: "Stale file handle errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazythumb_filesystem_retry_duration_seconds",
			Help:    "Total time spent in retried filesystem operations",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// AppInfo exposes build information as labels on a constant gauge.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lazythumb_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_memory_paused",
			Help: "Whether decoding is paused for memory pressure (1 = paused)",
		},
	)

	MemoryPressureEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazythumb_memory_pressure_events_total",
			Help: "Times the memory monitor crossed the critical water mark",
		},
	)
)

// Warm-up metrics
var (
	WarmupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_warmup_runs_total",
			Help: "Cache warm-up runs by outcome",
		},
		[]string{"status"},
	)

	WarmupItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazythumb_warmup_items_total",
			Help: "Files visited by cache warm-up, by result",
		},
		[]string{"result"},
	)

	WarmupRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_warmup_running",
			Help: "Whether a cache warm-up is in progress (1 = running)",
		},
	)

	WarmupLastDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_warmup_last_duration_seconds",
			Help: "Duration of the last completed cache warm-up",
		},
	)

	WarmupWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazythumb_warmup_workers",
			Help: "Number of workers used by the last cache warm-up",
		},
	)
)
