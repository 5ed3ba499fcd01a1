package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"lazythumb/internal/item"
)

// ErrNotFound is returned when the manifest has no row for a path.
var ErrNotFound = errors.New("manifest entry not found")

// Entry is one manifest row.
type Entry struct {
	Path       string
	ParentPath string
	Name       string
	Kind       item.Kind
	Status     item.Status
	Requested  bool
	UpdatedAt  time.Time
}

// Ref returns the item reference for the entry.
func (e Entry) Ref() item.Ref {
	return item.Ref{Path: e.Path, Kind: e.Kind}
}

const entryColumns = `path, parent_path, name, kind, state, progress, requested, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	return scanEntryWith(row)
}

// scanEntryWith scans entryColumns followed by extra columns into extra.
func scanEntryWith(row rowScanner, extra ...any) (*Entry, error) {
	var (
		e         Entry
		kind      string
		state     string
		progress  float64
		requested int
		updatedAt int64
	)
	dest := append([]any{&e.Path, &e.ParentPath, &e.Name, &kind, &state, &progress, &requested, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	parsed, ok := item.ParseState(state)
	if !ok {
		return nil, fmt.Errorf("unknown state %q for %s", state, e.Path)
	}
	e.Kind = item.Kind(kind)
	e.Status = item.Status{State: parsed, Progress: progress}.Normalize()
	e.Requested = requested != 0
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

// GetEntry returns the manifest row for path.
func (d *Database) GetEntry(ctx context.Context, path string) (*Entry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_status", start, ignoreNotFound(err)) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var e *Entry
	e, err = scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM items WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%s: %w", path, ErrNotFound)
		return nil, err
	}
	return e, err
}

func getEntryTx(ctx context.Context, tx *sql.Tx, path string) (*Entry, error) {
	e, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM items WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// StatusDecision inspects the current row (nil when absent) and returns the
// status to store, or false to leave the row untouched.
type StatusDecision func(current *Entry) (item.Status, bool)

// UpdateStatus reads the row for ref and writes the status chosen by decide
// in one transaction. When a write happens OnChange hooks run, then
// watchers of the item and its parent directory are signalled.
func (d *Database) UpdateStatus(ctx context.Context, ref item.Ref, decide StatusDecision) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_status", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		written bool
		own     bool
		stored  change
	)
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getEntryTx(ctx, tx, ref.Path)
		if err != nil {
			return err
		}

		next, ok := decide(current)
		if !ok {
			return nil
		}
		next = next.Normalize()

		// A finished or evicted item no longer has an outstanding request.
		requested := current != nil && current.Requested && next.State == item.Materializing

		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (path, parent_path, name, kind, state, progress, requested, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
			ON CONFLICT(path) DO UPDATE SET
				state = excluded.state,
				progress = excluded.progress,
				requested = excluded.requested,
				updated_at = excluded.updated_at
		`, ref.Path, filepath.Dir(ref.Path), ref.Name(), string(ref.Kind),
			next.State.String(), next.Progress, boolInt(requested))
		if err != nil {
			return err
		}

		stored, err = getChangeTx(ctx, tx, ref.Path)
		if err != nil {
			return err
		}
		own = d.markOwn(stored.seq)
		written = true
		return nil
	})
	if err != nil {
		if own {
			d.unmarkOwn(stored.seq)
		}
		return false, err
	}

	if written {
		d.runHooks(stored.entry)
		d.hub.Publish(ref.Path, filepath.Dir(ref.Path))
		if err := d.touchLastReport(ctx, time.Now()); err != nil {
			return true, err
		}
	}
	return written, nil
}

// SetStatus writes status for ref unconditionally.
func (d *Database) SetStatus(ctx context.Context, ref item.Ref, status item.Status) error {
	_, err := d.UpdateStatus(ctx, ref, func(*Entry) (item.Status, bool) {
		return status, true
	})
	return err
}

// Request records that lazythumb wants ref materialized. It is a no-op for
// items that are already materialized or already requested, and reports
// whether a new request was recorded.
func (d *Database) Request(ctx context.Context, ref item.Ref) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("request", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var execErr error
		res, execErr = tx.ExecContext(ctx, `
			INSERT INTO items (path, parent_path, name, kind, requested)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(path) DO UPDATE SET
				requested = 1,
				updated_at = strftime('%s', 'now')
			WHERE items.requested = 0 AND items.state != 'materialized'
		`, ref.Path, filepath.Dir(ref.Path), ref.Name(), string(ref.Kind))
		return execErr
	})
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		d.hub.Publish(ref.Path)
	}
	return n > 0, nil
}

// Requests lists items with an outstanding materialization request, oldest
// first.
func (d *Database) Requests(ctx context.Context) ([]Entry, error) {
	return d.queryEntries(ctx, "requests",
		`SELECT `+entryColumns+` FROM items
		 WHERE requested = 1 AND state != 'materialized'
		 ORDER BY updated_at, path`)
}

// ListChildren returns the manifest rows directly under dir, ordered by name.
func (d *Database) ListChildren(ctx context.Context, dir string) ([]Entry, error) {
	return d.queryEntries(ctx, "list_children",
		`SELECT `+entryColumns+` FROM items
		 WHERE parent_path = ?
		 ORDER BY name, path`, dir)
}

func (d *Database) queryEntries(ctx context.Context, op, query string, args ...any) (entries []Entry, err error) {
	start := time.Now()
	defer func() { recordQuery(op, start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CountByState returns the number of rows per state name. Every state is
// present in the result, zero or not.
func (d *Database) CountByState(ctx context.Context) (counts map[string]int, err error) {
	start := time.Now()
	defer func() { recordQuery("count_states", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	counts = map[string]int{
		item.NotMaterialized.String(): 0,
		item.Materializing.String():   0,
		item.Materialized.String():    0,
	}

	rows, err := d.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM items GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// Watch returns a channel signalled whenever the row for path, or any row
// directly under path, changes. Writes made by other processes are seen by
// the change feed within one poll interval. Call the returned function to
// stop watching.
func (d *Database) Watch(path string) (<-chan struct{}, func()) {
	ch, cancel := d.hub.Subscribe(path)
	d.startFeed()
	return ch, cancel
}

// Watchers returns the number of live Watch registrations.
func (d *Database) Watchers() int {
	return d.hub.Count()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
