// Package notify delivers long-lived, cancellable change streams for
// provider items: throttled download progress, one-shot completion, and
// directory membership snapshots.
//
// Each subscription runs on its own goroutine and hands back a channel plus
// a Subscription handle owned by the caller. Streams are unbuffered and
// Cancel waits for the worker to exit, so nothing is delivered after Cancel
// returns. Source failures end a stream with an event carrying Err; a
// bounded number of transient read failures are retried first.
//
// Raw change signals come from a Strategy. The query strategy uses the
// source's native notifications (and fsnotify for directories); the
// polling strategy re-reads on a ticker. Directory notifications are
// debounced by a Debouncer.
package notify
