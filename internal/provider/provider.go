package provider

import (
	"context"

	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/metrics"
)

var log = logging.Component("provider")

// Source reports materialization status for provider items.
//
// CurrentStatus is best-effort and may be stale. An unreachable provider
// yields an error wrapping item.ErrProviderUnavailable, never a silent
// NotMaterialized. BeginMaterializing asks the provider to fetch the bytes
// and must be idempotent.
type Source interface {
	CurrentStatus(ctx context.Context, ref item.Ref) (item.Status, error)
	BeginMaterializing(ctx context.Context, ref item.Ref) error
}

// Watcher is implemented by sources with native change notification.
// WatchItem signals whenever the item (or, for a directory, any direct
// child) may have changed. The channel closes when ctx is done.
type Watcher interface {
	WatchItem(ctx context.Context, ref item.Ref) (<-chan struct{}, error)
}

// CompletionNotifier is implemented by sources that can report when an
// item's bytes have just become local. fn runs for every write into
// Materialized, including writes made outside this process where the
// source can see them, and before watchers are signalled for in-process
// writes.
type CompletionNotifier interface {
	OnMaterialized(fn func(item.Ref))
}

// StatusOf returns the status of ref from src. Directories are always
// materialized and never reach the source.
func StatusOf(ctx context.Context, src Source, ref item.Ref) (item.Status, error) {
	if ref.IsDir() {
		return item.MaterializedStatus(), nil
	}
	st, err := src.CurrentStatus(ctx, ref)
	if err != nil {
		return item.Status{}, err
	}
	return st.Normalize(), nil
}

// observe counts a source request by outcome.
func observe(provider, operation string, err error) {
	status := "success"
	if err != nil {
		status = item.ErrorKind(err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(provider, operation, status).Inc()
}

// forwardUntilDone closes out when ctx ends or in closes, calling release
// before returning.
func forwardUntilDone(ctx context.Context, in <-chan struct{}, release func()) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer release()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
