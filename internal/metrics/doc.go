// Package metrics provides Prometheus instrumentation for lazythumb.
//
// All metrics are registered with promauto at package init and prefixed with
// "lazythumb_". InitializeMetrics pre-creates the expected label sets so
// dashboards see zero-valued series before the first event.
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight
//
// ## Manifest Metrics
//
//   - DBQueryTotal / DBQueryDuration: SQLite manifest queries by operation
//   - ManifestItems: tracked items by materialization state (set by Collector)
//
// ## Change Notification Metrics
//
//   - SubscriptionsActive: live subscriptions by type (item, completion, directory)
//   - SubscriptionEmissionsTotal: events delivered to subscribers
//   - SubscriptionErrorsTotal: subscriptions ended by a terminal error, by error kind
//   - NotificationsTotal: raw provider notifications, processed or coalesced by debouncing
//   - PollRetriesTotal: transient read failures retried while polling
//
// ## Thumbnail Metrics
//
//   - ThumbnailRequestsTotal: requests by origin (cache, generated, pending, icon)
//   - ThumbnailGenerationsTotal / ThumbnailGenerationDuration: by media kind
//   - ThumbnailCacheHits (by tier), ThumbnailCacheMisses, ThumbnailCacheEvictions,
//     ThumbnailCacheWriteErrors
//   - ThumbnailCacheMemoryBytes, ThumbnailCacheMemoryEntries, ThumbnailCacheDiskBytes
//
// ## Codec Metrics
//
//   - CodecOperationDuration / CodecErrorsTotal by operation
//   - ArtworkSourceTotal: which artwork key space produced embedded cover art
//
// ## Filesystem Metrics
//
// Recorded through the filesystem.Observer returned by NewFilesystemObserver,
// which keeps the filesystem package free of a metrics import.
//
// # Usage
//
//	metrics.InitializeMetrics()
//	filesystem.SetObserver(metrics.NewFilesystemObserver())
//	collector := metrics.NewCollector(statsProvider, time.Minute)
//	collector.Start()
//	defer collector.Stop()
package metrics
