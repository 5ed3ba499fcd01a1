package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	volumes := []string{"root", "cache", "data", "unknown"}
	retryOps := []string{"stat", "open", "readdir"}

	for _, vol := range volumes {
		for _, op := range retryOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, state := range []string{"not_materialized", "materializing", "materialized"} {
		ManifestItems.WithLabelValues(state)
	}

	subTypes := []string{"item", "completion", "directory"}
	for _, st := range subTypes {
		SubscriptionsActive.WithLabelValues(st)
		SubscriptionEmissionsTotal.WithLabelValues(st)
		NotificationsTotal.WithLabelValues(st, "processed")
		NotificationsTotal.WithLabelValues(st, "coalesced")
	}

	for _, origin := range []string{"cache", "generated", "pending", "icon"} {
		ThumbnailRequestsTotal.WithLabelValues(origin)
	}

	for _, tier := range []string{"memory", "disk"} {
		ThumbnailCacheHits.WithLabelValues(tier)
	}

	for _, t := range []string{"directory", "image", "audio", "video", "other"} {
		ThumbnailGenerationsTotal.WithLabelValues(t, "success")
		ThumbnailGenerationsTotal.WithLabelValues(t, "fallback")
		ThumbnailGenerationDuration.WithLabelValues(t)
	}

	for _, op := range []string{"decode_file", "decode", "resize", "encode", "video_frame", "artwork"} {
		CodecOperationDuration.WithLabelValues(op)
		CodecErrorsTotal.WithLabelValues(op)
	}

	for _, src := range []string{"picture", "APIC", "PIC", "covr", "METADATA_BLOCK_PICTURE", "ffmpeg", "none"} {
		ArtworkSourceTotal.WithLabelValues(src)
	}

	kinds := []string{"success", "provider_unavailable", "item_not_found", "other"}
	for _, p := range []string{"manifest", "local", "xattr", "memory"} {
		for _, op := range []string{"status", "begin", "report"} {
			for _, k := range kinds {
				ProviderRequestsTotal.WithLabelValues(p, op, k)
			}
		}
	}

	for _, op := range []string{"get_status", "set_status", "request", "list_children", "requests", "count_states", "vacuum", "changes"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, status := range []string{"completed", "cancelled"} {
		WarmupRunsTotal.WithLabelValues(status)
	}
	for _, r := range []string{"generated", "cached", "skipped", "error"} {
		WarmupItemsTotal.WithLabelValues(r)
	}
}
