package notify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/metrics"
)

// SubscribeToDirectory streams snapshots of dir's children. The first
// snapshot has IsInitial set; later ones are sent only when membership
// changes. Bursts of notifications are debounced to one rescan per
// interval using the latest state. If the notification source ends, a
// rescan still owed is run before the stream closes.
func (e *Engine) SubscribeToDirectory(ctx context.Context, dir item.Ref, interval time.Duration) (<-chan DirectoryEvent, *Subscription) {
	interval = e.interval(interval)
	out := make(chan DirectoryEvent)
	sub := e.start(ctx, TypeDirectory, dir, func() { close(out) }, func(ctx context.Context) {
		e.runDirectory(ctx, dir, interval, out)
	})
	return out, sub
}

func (e *Engine) runDirectory(ctx context.Context, dir item.Ref, interval time.Duration, out chan<- DirectoryEvent) {
	// Register before the first scan so nothing between the two is missed.
	changes := e.strategy.DirectoryChanges(ctx, dir, interval)

	deb := NewDebouncer(interval)
	defer deb.Stop()
	fails := e.newFailures(interval)
	defer fails.stop()

	var last []item.Ref
	initial := true

	scan := func() bool {
		children, err := e.ListChildren(dir)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			if fails.record(TypeDirectory, dir, err) {
				emit(ctx, out, TypeDirectory, DirectoryEvent{Snapshot: item.DirectorySnapshot{Dir: dir}, Err: err})
				return true
			}
			return false
		}
		fails.reset()

		if !initial && item.SameChildren(last, children) {
			return false
		}
		snap := item.DirectorySnapshot{
			Dir:       dir,
			Children:  children,
			IsInitial: initial,
			Taken:     time.Now(),
		}
		if !emit(ctx, out, TypeDirectory, DirectoryEvent{Snapshot: snap}) {
			return true
		}
		initial, last = false, children
		return false
	}

	if scan() {
		return
	}
	deb.MarkProcessed(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() == nil && deb.Flush() {
					scan()
				}
				return
			}
			if !deb.Notify(time.Now()) {
				metrics.NotificationsTotal.WithLabelValues(string(TypeDirectory), "coalesced").Inc()
				continue
			}
			metrics.NotificationsTotal.WithLabelValues(string(TypeDirectory), "processed").Inc()
			if scan() {
				return
			}
		case now := <-deb.C():
			if !deb.Fire(now) {
				continue
			}
			metrics.NotificationsTotal.WithLabelValues(string(TypeDirectory), "processed").Inc()
			if scan() {
				return
			}
		case <-fails.C():
			if scan() {
				return
			}
		}
	}
}

// ListChildren returns dir's children sorted by name. Hidden entries are
// skipped unless the engine was configured to include them.
func (e *Engine) ListChildren(dir item.Ref) ([]item.Ref, error) {
	entries, err := filesystem.ReadDirWithRetry(dir.Path, e.opts.Retry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir.Path, item.ErrItemNotFound)
		}
		return nil, fmt.Errorf("list %s: %w: %w", dir.Path, item.ErrProviderUnavailable, err)
	}

	children := make([]item.Ref, 0, len(entries))
	for _, entry := range entries {
		if !e.opts.IncludeHidden && strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir.Path, entry.Name())
		if entry.IsDir() {
			children = append(children, item.NewDirectory(path))
		} else {
			children = append(children, item.NewFile(path))
		}
	}
	item.SortChildren(children)
	return children, nil
}
