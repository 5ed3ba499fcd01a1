package notify

import (
	"context"
	"time"

	"lazythumb/internal/item"
	"lazythumb/internal/metrics"
	"lazythumb/internal/provider"
)

// SubscribeToItem streams the materialization progress of ref. Emissions
// are throttled to at most one per interval and never decrease; progress
// held back by the throttle is delivered when the interval closes, even if
// the source goes quiet; the stream
// always ends with a Done event at Progress 1.0, or with an event carrying
// Err if the source fails. A re-reported NotMaterialized restarts waiting
// without emitting a lower value.
func (e *Engine) SubscribeToItem(ctx context.Context, ref item.Ref, interval time.Duration) (<-chan ProgressEvent, *Subscription) {
	interval = e.interval(interval)
	out := make(chan ProgressEvent)
	sub := e.start(ctx, TypeItem, ref, func() { close(out) }, func(ctx context.Context) {
		e.runItem(ctx, ref, interval, out)
	})
	return out, sub
}

// SubscribeToItemCompletion emits exactly one event once ref is
// materialized, then ends. If ref is already materialized the event is
// emitted immediately.
func (e *Engine) SubscribeToItemCompletion(ctx context.Context, ref item.Ref) (<-chan CompletionEvent, *Subscription) {
	interval := e.opts.DefaultInterval
	out := make(chan CompletionEvent)
	sub := e.start(ctx, TypeCompletion, ref, func() { close(out) }, func(ctx context.Context) {
		e.runCompletion(ctx, ref, interval, out)
	})
	return out, sub
}

// watchLoop calls check once, then again on every change signal or retry
// wake-up, until check reports the stream is over or ctx ends. When deb is
// non-nil its trailing pass runs check with trailing set. If the source's
// notifications end early it keeps going by polling.
func (e *Engine) watchLoop(ctx context.Context, ref item.Ref, interval time.Duration, fails *failures, deb *Debouncer, check func(trailing bool) bool) {
	changes := e.strategy.ItemChanges(ctx, ref, interval)
	if check(false) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				log.Debug("notifications for %s ended, polling instead", ref.Path)
				changes = ticks(ctx, interval)
				continue
			}
			if check(false) {
				return
			}
		case <-fails.C():
			if check(false) {
				return
			}
		case now := <-trailingPass(deb):
			if deb.Fire(now) && check(true) {
				return
			}
		}
	}
}

// trailingPass is deb's timer channel, or nil when there is no debouncer.
func trailingPass(deb *Debouncer) <-chan time.Time {
	if deb == nil {
		return nil
	}
	return deb.C()
}

func (e *Engine) runItem(ctx context.Context, ref item.Ref, interval time.Duration, out chan<- ProgressEvent) {
	fails := e.newFailures(interval)
	defer fails.stop()
	deb := NewDebouncer(interval)
	defer deb.Stop()

	last := -1.0

	e.watchLoop(ctx, ref, interval, fails, deb, func(trailing bool) bool {
		st, err := provider.StatusOf(ctx, e.src, ref)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			if fails.record(TypeItem, ref, err) {
				emit(ctx, out, TypeItem, ProgressEvent{Ref: ref, State: st.State, Err: err, At: time.Now()})
				return true
			}
			return false
		}
		fails.reset()

		now := time.Now()
		switch st.State {
		case item.Materialized:
			emit(ctx, out, TypeItem, ProgressEvent{Ref: ref, State: item.Materialized, Progress: 1, Done: true, At: now})
			return true
		case item.Materializing:
			if st.Progress <= last {
				return false
			}
			// Progress inside the window is held for the trailing pass.
			if !trailing && !deb.Notify(now) {
				metrics.NotificationsTotal.WithLabelValues(string(TypeItem), "coalesced").Inc()
				return false
			}
			metrics.NotificationsTotal.WithLabelValues(string(TypeItem), "processed").Inc()
			if !emit(ctx, out, TypeItem, ProgressEvent{Ref: ref, State: item.Materializing, Progress: st.Progress, At: now}) {
				return true
			}
			last = st.Progress
		}
		return false
	})
}

func (e *Engine) runCompletion(ctx context.Context, ref item.Ref, interval time.Duration, out chan<- CompletionEvent) {
	fails := e.newFailures(interval)
	defer fails.stop()

	e.watchLoop(ctx, ref, interval, fails, nil, func(bool) bool {
		st, err := provider.StatusOf(ctx, e.src, ref)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			if fails.record(TypeCompletion, ref, err) {
				emit(ctx, out, TypeCompletion, CompletionEvent{Ref: ref, Err: err, At: time.Now()})
				return true
			}
			return false
		}
		fails.reset()

		if st.IsMaterialized() {
			emit(ctx, out, TypeCompletion, CompletionEvent{Ref: ref, At: time.Now()})
			return true
		}
		return false
	})
}
