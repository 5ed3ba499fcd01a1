package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/metrics"
	"lazythumb/internal/provider"
)

var log = logging.Component("notify")

const (
	// DefaultInterval is used when a subscriber passes a non-positive interval.
	DefaultInterval = time.Second
	// DefaultMaxTransientFailures is how many consecutive failed reads are
	// retried before a subscription ends with an error.
	DefaultMaxTransientFailures = 3
)

// Options configures an Engine.
type Options struct {
	// Strategy is StrategyQuery (default) or StrategyPolling.
	Strategy string
	// DefaultInterval replaces non-positive subscriber intervals.
	DefaultInterval time.Duration
	// MaxTransientFailures bounds silent retries of failed reads.
	MaxTransientFailures int
	// IncludeHidden lists dot files in directory snapshots.
	IncludeHidden bool
	// Retry configures stale-handle retries for directory listings.
	Retry filesystem.RetryConfig
}

// Engine runs subscriptions against one status source. Every Subscribe
// call returns immediately; a goroutine per subscription does the work.
type Engine struct {
	src      provider.Source
	strategy Strategy
	opts     Options

	ctx    context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New returns an Engine reading from src.
func New(src provider.Source, opts Options) *Engine {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.MaxTransientFailures <= 0 {
		opts.MaxTransientFailures = DefaultMaxTransientFailures
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialBackoff == 0 {
		opts.Retry = filesystem.DefaultRetryConfig()
	}

	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		src:      src,
		strategy: NewStrategy(opts.Strategy, src),
		opts:     opts,
		ctx:      ctx,
		stop:     stop,
		subs:     make(map[*Subscription]struct{}),
	}
	log.Info("change notification engine using %s strategy", e.strategy.Name())
	return e
}

// Source returns the engine's status source.
func (e *Engine) Source() provider.Source {
	return e.src
}

// Strategy returns the strategy name in use.
func (e *Engine) Strategy() string {
	return e.strategy.Name()
}

// Active returns the number of live subscriptions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close cancels every subscription and waits for their workers.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
}

// newFailures returns a failure tracker for a subscription at interval.
// Polling already re-reads every interval, so it gets no retry timer.
func (e *Engine) newFailures(interval time.Duration) *failures {
	if e.strategy.Name() == StrategyPolling {
		interval = 0
	}
	return &failures{max: e.opts.MaxTransientFailures, every: interval}
}

func (e *Engine) interval(d time.Duration) time.Duration {
	if d <= 0 {
		return e.opts.DefaultInterval
	}
	return d
}

// start creates a subscription whose context ends with the caller's ctx,
// an explicit Cancel or Engine.Close, and runs work on its own goroutine.
// work must return promptly once ctx is done. closeStream runs exactly
// once, after work has returned.
func (e *Engine) start(ctx context.Context, typ Type, ref item.Ref, closeStream func(), work func(ctx context.Context)) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	unlink := context.AfterFunc(e.ctx, cancel)
	sub := newSubscription(typ, ref, cancel)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		unlink()
		closeStream()
		sub.finish()
		close(sub.done)
		return sub
	}
	e.subs[sub] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	metrics.SubscriptionsActive.WithLabelValues(string(typ)).Inc()
	log.Debug("%s subscription started for %s", typ, ref.Path)

	go func() {
		defer e.wg.Done()
		defer func() {
			unlink()
			cancel()

			e.mu.Lock()
			delete(e.subs, sub)
			e.mu.Unlock()

			metrics.SubscriptionsActive.WithLabelValues(string(typ)).Dec()
			closeStream()
			sub.finish()
			close(sub.done)
			log.Debug("%s subscription ended for %s", typ, ref.Path)
		}()

		if !sub.activate() || subCtx.Err() != nil {
			return
		}
		work(subCtx)
	}()
	return sub
}

// emit delivers v unless ctx ends first. Streams are unbuffered, so once a
// worker has exited nothing is left for the consumer to read.
func emit[T any](ctx context.Context, out chan<- T, typ Type, v T) bool {
	select {
	case out <- v:
		metrics.SubscriptionEmissionsTotal.WithLabelValues(string(typ)).Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

// failures tracks consecutive failed reads. When every is positive it also
// arms a retry wake-up, so strategies without a periodic signal still
// re-read after an error.
type failures struct {
	max   int
	count int
	retry *time.Timer
	every time.Duration
}

// record notes a failure and reports whether it is terminal. Missing items
// are terminal immediately.
func (f *failures) record(typ Type, ref item.Ref, err error) bool {
	f.count++
	if errors.Is(err, item.ErrItemNotFound) || f.count > f.max {
		metrics.SubscriptionErrorsTotal.WithLabelValues(string(typ), item.ErrorKind(err)).Inc()
		log.Warn("%s subscription for %s failed: %v", typ, ref.Path, err)
		return true
	}
	metrics.PollRetriesTotal.Inc()
	log.Debug("transient read failure %d/%d for %s: %v", f.count, f.max, ref.Path, err)
	if f.every <= 0 {
		return false
	}
	if f.retry == nil {
		f.retry = time.NewTimer(f.every)
	} else {
		f.retry.Reset(f.every)
	}
	return false
}

func (f *failures) reset() {
	f.count = 0
	if f.retry != nil {
		f.retry.Stop()
	}
}

// C delivers when a retry is due; nil when nothing failed.
func (f *failures) C() <-chan time.Time {
	if f.count == 0 || f.retry == nil {
		return nil
	}
	return f.retry.C
}

func (f *failures) stop() {
	if f.retry != nil {
		f.retry.Stop()
	}
}
