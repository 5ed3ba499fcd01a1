package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"lazythumb/internal/broadcast"
	"lazythumb/internal/logging"
	"lazythumb/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// schemaVersion is stored in the metadata table and bumped by migrations.
const schemaVersion = "3"

// Database is the materialization manifest: one row per provider item with
// its state and progress. A sync daemon writes it; lazythumb reads it.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	hub    *broadcast.Hub
	feed   changeFeed
}

// New opens (creating if needed) the manifest at dbPath. The parent
// directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Manifest database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout lets the daemon and lazythumb share the file without
	// "database is locked" errors.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
		hub:    broadcast.New(),
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Manifest database initialized at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		path TEXT PRIMARY KEY,
		parent_path TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'file',
		state TEXT NOT NULL DEFAULT 'not_materialized',
		progress REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_items_parent_path ON items(parent_path);
	CREATE INDEX IF NOT EXISTS idx_items_state ON items(state);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return d.runMigrations(ctx)
}

// runMigrations applies schema migrations
func (d *Database) runMigrations(ctx context.Context) error {
	// Migration 2: track materialization requests separately from state so
	// a daemon can find work without scanning every row.
	var columnExists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('items')
		WHERE name='requested'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check for requested column: %w", err)
	}

	if !columnExists {
		logging.Info("Migrating manifest: adding requested column to items table")
		if _, err := d.db.ExecContext(ctx, `
			ALTER TABLE items ADD COLUMN requested INTEGER NOT NULL DEFAULT 0
		`); err != nil {
			return fmt.Errorf("failed to add requested column: %w", err)
		}
		if _, err := d.db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_items_requested ON items(requested) WHERE requested = 1
		`); err != nil {
			return fmt.Errorf("failed to index requested column: %w", err)
		}
	}

	// Migration 3: a change sequence maintained by triggers, so writes made
	// by any process can be found by polling for rows past a cursor.
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('items')
		WHERE name='seq'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check for seq column: %w", err)
	}

	if !columnExists {
		logging.Info("Migrating manifest: adding seq column to items table")
		if _, err := d.db.ExecContext(ctx, `
			ALTER TABLE items ADD COLUMN seq INTEGER NOT NULL DEFAULT 0
		`); err != nil {
			return fmt.Errorf("failed to add seq column: %w", err)
		}
	}

	// The triggers only list the columns a status write touches, so their
	// own update of seq does not fire them again.
	if _, err := d.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_items_seq ON items(seq);

		CREATE TRIGGER IF NOT EXISTS items_seq_insert AFTER INSERT ON items
		BEGIN
			UPDATE items SET seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM items)
			WHERE path = NEW.path;
		END;

		CREATE TRIGGER IF NOT EXISTS items_seq_update AFTER UPDATE OF state, progress, requested ON items
		BEGIN
			UPDATE items SET seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM items)
			WHERE path = NEW.path;
		END;
	`); err != nil {
		return fmt.Errorf("failed to create change triggers: %w", err)
	}

	return d.SetMetadata(ctx, "schema_version", schemaVersion)
}

// Close closes the database connection and ends all change subscriptions.
func (d *Database) Close() error {
	d.stopFeed()
	d.hub.Close()
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// withTx runs fn in a write transaction, committing on success.
func (d *Database) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	// A read-only WAL or SHM file left by another user breaks every write.
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only (mode %v)", filepath.Base(path), info.Mode())
			if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
				logging.Error("Failed to fix permissions on %s: %v", path, chmodErr)
			} else {
				logging.Info("Fixed permissions on %s", path)
			}
		}
	}

	return nil
}
