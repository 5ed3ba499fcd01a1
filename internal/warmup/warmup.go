package warmup

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/metrics"
	"lazythumb/internal/thumbnail"
	"lazythumb/internal/workers"
)

var log = logging.Component("warmup")

// ErrRunning is returned when a warm-up is already in progress.
var ErrRunning = errors.New("cache warm-up already running")

// Options configures a Warmer.
type Options struct {
	Generator *thumbnail.Generator
	Root      string
	// Size defaults to thumbnail.DefaultSize.
	Size item.Size
	// Workers is the number of parallel workers (0 = workers.ForCPU).
	Workers int
	// ChannelBuffer is the size of the work channel buffer.
	ChannelBuffer int
	// IncludeHidden visits files and directories starting with ".".
	IncludeHidden bool
}

// Stats describes the current or last warm-up run.
type Stats struct {
	Running    bool      `json:"running"`
	Scanned    int64     `json:"scanned"`
	Generated  int64     `json:"generated"`
	Cached     int64     `json:"cached"`
	Skipped    int64     `json:"skipped"`
	Errors     int64     `json:"errors"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Warmer fills the thumbnail cache from the root tree.
type Warmer struct {
	gen           *thumbnail.Generator
	root          string
	size          item.Size
	workers       int
	buffer        int
	includeHidden bool

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time
	finishedAt time.Time

	scanned   atomic.Int64
	generated atomic.Int64
	cached    atomic.Int64
	skipped   atomic.Int64
	errs      atomic.Int64
}

// New returns a Warmer.
func New(opts Options) (*Warmer, error) {
	if opts.Generator == nil {
		return nil, errors.New("warm-up needs a thumbnail generator")
	}
	if opts.Root == "" {
		return nil, errors.New("warm-up needs a root directory")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	if !opts.Size.Valid() {
		opts.Size = item.Square(thumbnail.DefaultSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = workers.ForCPU(0)
	}
	if opts.ChannelBuffer <= 0 {
		opts.ChannelBuffer = opts.Workers * 4
	}
	return &Warmer{
		gen:           opts.Generator,
		root:          root,
		size:          opts.Size,
		workers:       opts.Workers,
		buffer:        opts.ChannelBuffer,
		includeHidden: opts.IncludeHidden,
	}, nil
}

// Start begins a warm-up in the background. Cancelling ctx or calling Stop
// ends it early.
func (w *Warmer) Start(ctx context.Context) error {
	ctx, err := w.begin(ctx)
	if err != nil {
		return err
	}
	go func() { _ = w.run(ctx) }()
	return nil
}

// Run performs a warm-up and returns its stats once the walk has finished.
func (w *Warmer) Run(ctx context.Context) (Stats, error) {
	ctx, err := w.begin(ctx)
	if err != nil {
		return w.Stats(), err
	}
	err = w.run(ctx)
	return w.Stats(), err
}

// Stop cancels the active run, if any, and waits for its workers to exit.
func (w *Warmer) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the active run, if any, has finished.
func (w *Warmer) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a warm-up is in progress.
func (w *Warmer) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns a snapshot of the counters.
func (w *Warmer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Running:    w.running,
		Scanned:    w.scanned.Load(),
		Generated:  w.generated.Load(),
		Cached:     w.cached.Load(),
		Skipped:    w.skipped.Load(),
		Errors:     w.errs.Load(),
		StartedAt:  w.startedAt,
		FinishedAt: w.finishedAt,
	}
}

func (w *Warmer) begin(parent context.Context) (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil, ErrRunning
	}

	for _, c := range []*atomic.Int64{&w.scanned, &w.generated, &w.cached, &w.skipped, &w.errs} {
		c.Store(0)
	}
	ctx, cancel := context.WithCancel(parent)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.startedAt = time.Now()
	w.finishedAt = time.Time{}
	metrics.WarmupRunning.Set(1)
	return ctx, nil
}

// run walks the tree and returns the cancellation error, if any.
func (w *Warmer) run(ctx context.Context) error {
	log.Info("Starting cache warm-up of %s with %d workers", w.root, w.workers)
	metrics.WarmupWorkers.Set(float64(w.workers))

	err := w.walk(ctx)
	if err == nil {
		err = ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.cancel()
	w.cancel = nil
	w.finishedAt = time.Now()
	duration := w.finishedAt.Sub(w.startedAt)
	close(w.done)
	w.mu.Unlock()

	metrics.WarmupRunning.Set(0)
	metrics.WarmupLastDuration.Set(duration.Seconds())

	status := "completed"
	if err != nil {
		status = "cancelled"
	}
	metrics.WarmupRunsTotal.WithLabelValues(status).Inc()

	s := w.Stats()
	log.Info("Cache warm-up %s in %v: %d scanned, %d generated, %d cached, %d skipped (errors: %d)",
		status, duration.Round(time.Millisecond), s.Scanned, s.Generated, s.Cached, s.Skipped, s.Errors)
	return err
}

// walk sends every candidate file to the worker pool.
func (w *Warmer) walk(ctx context.Context) error {
	jobs := make(chan item.Ref, w.buffer)

	var wg sync.WaitGroup
	for range w.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				if ctx.Err() != nil {
					continue
				}
				w.process(ctx, ref)
			}
		}()
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if err != nil {
			log.Warn("Error accessing path %s: %v", path, err)
			w.errs.Add(1)
			return nil
		}
		if path == w.root {
			return nil
		}

		if !w.includeHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		w.scanned.Add(1)
		ref := item.NewFile(path)
		if item.Classify(ref) == item.MediaOther {
			w.count("skipped")
			return nil
		}

		select {
		case jobs <- ref:
		case <-ctx.Done():
			return fs.SkipAll
		}
		return nil
	})

	close(jobs)
	wg.Wait()
	return err
}

func (w *Warmer) process(ctx context.Context, ref item.Ref) {
	res := w.gen.Generate(ctx, ref, w.size)

	switch {
	case res.Origin == thumbnail.OriginCache:
		w.count("cached")
	case res.Origin == thumbnail.OriginGenerated:
		w.count("generated")
	case res.Err != nil && ctx.Err() == nil:
		log.Debug("warm-up of %s fell back to an icon: %v", ref.Path, res.Err)
		w.count("error")
	default:
		w.count("skipped")
	}
}

func (w *Warmer) count(result string) {
	switch result {
	case "generated":
		w.generated.Add(1)
	case "cached":
		w.cached.Add(1)
	case "error":
		w.errs.Add(1)
	default:
		w.skipped.Add(1)
	}
	metrics.WarmupItemsTotal.WithLabelValues(result).Inc()
}
