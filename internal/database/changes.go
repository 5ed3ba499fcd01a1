package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"lazythumb/internal/logging"
)

// DefaultPollInterval is how often the change feed looks for rows written
// by other processes.
const DefaultPollInterval = 250 * time.Millisecond

// changeBatch bounds the rows read per poll; a longer backlog is drained
// over the following polls.
const changeBatch = 500

// changeFeed follows the seq column so writes made by any connection reach
// hooks and watchers. It starts with the first Watch or OnChange.
type changeFeed struct {
	mu       sync.Mutex
	hooks    []func(Entry)
	own      map[int64]struct{}
	interval time.Duration
	starting bool
	started  bool
	closed   bool
	stop     chan struct{}
	done     chan struct{}
}

// OnChange registers fn to run for every committed write to a manifest
// row, including writes made by other processes. For writes made through d
// fn runs before watchers are signalled and is not repeated by the feed.
func (d *Database) OnChange(fn func(Entry)) {
	d.feed.mu.Lock()
	d.feed.hooks = append(d.feed.hooks, fn)
	d.feed.mu.Unlock()

	d.startFeed()
}

// SetPollInterval changes how often the feed polls. It only has an effect
// before the feed starts.
func (d *Database) SetPollInterval(interval time.Duration) {
	d.feed.mu.Lock()
	defer d.feed.mu.Unlock()
	d.feed.interval = interval
}

func (d *Database) startFeed() {
	f := &d.feed
	f.mu.Lock()
	if f.started || f.starting || f.closed {
		f.mu.Unlock()
		return
	}
	f.starting = true
	f.mu.Unlock()

	// The cursor is read without f.mu held; writers take d.mu before f.mu.
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	cursor, err := d.latestSeq(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starting = false
	if err != nil {
		logging.Warn("manifest change feed not started: %v", err)
		return
	}
	if f.closed {
		return
	}

	if f.interval <= 0 {
		f.interval = DefaultPollInterval
	}
	f.started = true
	f.own = make(map[int64]struct{})
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go d.pollChanges(f.stop, f.done, f.interval, cursor)
}

func (d *Database) stopFeed() {
	f := &d.feed
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	started := f.started
	f.mu.Unlock()

	if started {
		close(f.stop)
		<-f.done
	}
}

func (d *Database) pollChanges(stop <-chan struct{}, done chan<- struct{}, interval time.Duration, cursor int64) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		changes, err := d.changesSince(ctx, cursor)
		cancel()
		if err != nil {
			logging.Debug("manifest change poll failed: %v", err)
			continue
		}

		for _, c := range changes {
			cursor = c.seq
			if d.takeOwn(c.seq) {
				continue
			}
			d.runHooks(c.entry)
			d.hub.Publish(c.entry.Path, c.entry.ParentPath)
		}
	}
}

type change struct {
	entry Entry
	seq   int64
}

func (d *Database) latestSeq(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var seq int64
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM items`).Scan(&seq)
	return seq, err
}

func (d *Database) changesSince(ctx context.Context, cursor int64) (changes []change, err error) {
	start := time.Now()
	defer func() { recordQuery("changes", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+entryColumns+`, seq FROM items WHERE seq > ? ORDER BY seq LIMIT ?`,
		cursor, changeBatch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func scanChange(row rowScanner) (change, error) {
	var seq int64
	e, err := scanEntryWith(row, &seq)
	if err != nil {
		return change{}, err
	}
	return change{entry: *e, seq: seq}, nil
}

func getChangeTx(ctx context.Context, tx *sql.Tx, path string) (change, error) {
	c, err := scanChange(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+`, seq FROM items WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return change{}, ErrNotFound
	}
	return c, err
}

// markOwn records a write made through d so the feed does not run hooks
// for it a second time. It reports whether the feed is running.
func (d *Database) markOwn(seq int64) bool {
	d.feed.mu.Lock()
	defer d.feed.mu.Unlock()
	if !d.feed.started || d.feed.closed {
		return false
	}
	d.feed.own[seq] = struct{}{}
	return true
}

func (d *Database) unmarkOwn(seq int64) {
	d.feed.mu.Lock()
	defer d.feed.mu.Unlock()
	delete(d.feed.own, seq)
}

func (d *Database) takeOwn(seq int64) bool {
	d.feed.mu.Lock()
	defer d.feed.mu.Unlock()
	if _, ok := d.feed.own[seq]; ok {
		delete(d.feed.own, seq)
		return true
	}
	return false
}

func (d *Database) runHooks(e Entry) {
	d.feed.mu.Lock()
	hooks := append([]func(Entry)(nil), d.feed.hooks...)
	d.feed.mu.Unlock()

	for _, fn := range hooks {
		fn(e)
	}
}
