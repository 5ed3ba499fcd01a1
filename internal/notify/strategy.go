package notify

import (
	"context"
	"sync"
	"time"

	"lazythumb/internal/item"
	"lazythumb/internal/provider"

	"github.com/fsnotify/fsnotify"
)

// Strategy turns an observed item into a stream of raw change signals. A
// signal only means "re-read now"; the engine does the reading, throttling
// and debouncing. Channels close when ctx is done or the underlying
// notification source ends. Strategies never fail: when native
// notification is unavailable they fall back to polling.
type Strategy interface {
	Name() string
	ItemChanges(ctx context.Context, ref item.Ref, interval time.Duration) <-chan struct{}
	DirectoryChanges(ctx context.Context, dir item.Ref, interval time.Duration) <-chan struct{}
}

// Strategy names accepted by NewStrategy.
const (
	StrategyQuery   = "query"
	StrategyPolling = "polling"
)

// NewStrategy returns the named strategy for src. Unknown names select the
// query strategy.
func NewStrategy(name string, src provider.Source) Strategy {
	if name == StrategyPolling {
		return PollingStrategy{}
	}
	return &QueryStrategy{src: src}
}

// PollingStrategy signals on a fixed ticker.
type PollingStrategy struct{}

// Name returns "polling".
func (PollingStrategy) Name() string { return StrategyPolling }

// ItemChanges ticks every interval.
func (PollingStrategy) ItemChanges(ctx context.Context, _ item.Ref, interval time.Duration) <-chan struct{} {
	return ticks(ctx, interval)
}

// DirectoryChanges ticks every interval.
func (PollingStrategy) DirectoryChanges(ctx context.Context, _ item.Ref, interval time.Duration) <-chan struct{} {
	return ticks(ctx, interval)
}

// ticks signals every interval until ctx is done. The ticker wakes the
// goroutine, so cancellation is observed without busy waiting.
func ticks(ctx context.Context, interval time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				signal(out)
			}
		}
	}()
	return out
}

// QueryStrategy uses the source's native notifications for items and
// fsnotify plus the source's notifications for directories.
type QueryStrategy struct {
	src provider.Source
}

// Name returns "query".
func (*QueryStrategy) Name() string { return StrategyQuery }

// ItemChanges uses the source's Watcher, or polls when it has none.
func (q *QueryStrategy) ItemChanges(ctx context.Context, ref item.Ref, interval time.Duration) <-chan struct{} {
	if ch := q.watch(ctx, ref); ch != nil {
		return ch
	}
	return ticks(ctx, interval)
}

// DirectoryChanges merges fsnotify events for the directory with the
// source's notifications for its children. With neither available it polls.
func (q *QueryStrategy) DirectoryChanges(ctx context.Context, dir item.Ref, interval time.Duration) <-chan struct{} {
	var inputs []<-chan struct{}
	if ch := watchDirectory(ctx, dir.Path); ch != nil {
		inputs = append(inputs, ch)
	}
	if ch := q.watch(ctx, dir); ch != nil {
		inputs = append(inputs, ch)
	}
	if len(inputs) == 0 {
		return ticks(ctx, interval)
	}
	return merge(ctx, inputs...)
}

func (q *QueryStrategy) watch(ctx context.Context, ref item.Ref) <-chan struct{} {
	w, ok := q.src.(provider.Watcher)
	if !ok {
		return nil
	}
	ch, err := w.WatchItem(ctx, ref)
	if err != nil {
		log.Debug("native notifications unavailable for %s: %v", ref.Path, err)
		return nil
	}
	return ch
}

// watchDirectory signals on every fsnotify event in dir. It returns nil
// when the directory cannot be watched.
func watchDirectory(ctx context.Context, dir string) <-chan struct{} {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable: %v", err)
		return nil
	}
	if err := w.Add(dir); err != nil {
		log.Debug("cannot watch %s: %v", dir, err)
		_ = w.Close()
		return nil
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() {
			if err := w.Close(); err != nil {
				log.Debug("close watcher for %s: %v", dir, err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				signal(out)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				// Overflow means events were lost; a rescan covers them.
				log.Debug("watcher error on %s: %v", dir, err)
				signal(out)
			}
		}
	}()
	return out
}

// merge forwards signals from all inputs and closes once every input has
// closed or ctx is done.
func merge(ctx context.Context, inputs ...<-chan struct{}) <-chan struct{} {
	if len(inputs) == 1 {
		return inputs[0]
	}

	out := make(chan struct{}, 1)
	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in <-chan struct{}) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-in:
					if !ok {
						return
					}
					signal(out)
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// signal performs a non-blocking send; a pending signal already covers
// this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
