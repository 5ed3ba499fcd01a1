/*
Package filesystem provides filesystem operations that survive stale file
handles on network and FUSE mounts.

Sync providers replace a placeholder with real content by swapping the
underlying inode, so a handle opened a moment earlier can fail with ESTALE.
StatWithRetry, OpenWithRetry and ReadDirWithRetry retry only that errno,
with capped exponential backoff (50ms, 100ms, 200ms by default). Every other
error is returned immediately.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Metrics are reported through an Observer installed at startup with
SetObserver; the metrics package provides the implementation. Paths are
labeled with a volume name via VolumeResolver so dashboards can tell the
synced root apart from the thumbnail cache.
*/
package filesystem
