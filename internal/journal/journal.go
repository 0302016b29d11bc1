package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// busyTimeoutMs is the maximum time to wait for a database lock.
	busyTimeoutMs = 5000

	// connectionTimeout is the timeout for verifying connectivity.
	connectionTimeout = 5 * time.Second
)

// schema holds the dead-letter table definition. One row per failed
// batch, stored as the SDK's line-protocol payload.
const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT    NOT NULL,
	attempts   INTEGER NOT NULL,
	batch      TEXT    NOT NULL
);`

// ErrClosed indicates an operation on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Journal is a sqlite-backed dead-letter store for write batches the
// SDK gave up on. Batches are appended when the client's write-failed
// callback fires and drained by Replay once the server is reachable
// again.
//
// The journal belongs to the bridge daemon; the client wrapper itself
// owns no queueing.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens a journal file and prepares its schema.
//
// It performs the following setup:
//  1. Creates the journal directory if it doesn't exist
//  2. Opens the sqlite file with WAL mode and a busy timeout
//  3. Verifies the connection with a ping
//  4. Creates the dead_letters table if missing
func Open(ctx context.Context, path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeoutMs)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("preparing journal schema: %w", err)
	}

	// Owner read/write only; the journal may hold raw metric payloads.
	_ = os.Chmod(path, filePermissions) //nolint:errcheck // File may not exist until first write

	return &Journal{db: db, path: path}, nil
}

// Append stores a failed batch for later replay.
func (j *Journal) Append(ctx context.Context, batch string, attempts uint) error {
	if j.db == nil {
		return ErrClosed
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO dead_letters (created_at, attempts, batch) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), attempts, batch)
	if err != nil {
		return fmt.Errorf("appending to journal: %w", err)
	}
	return nil
}

// Replay feeds journalled batches to fn in insertion order, deleting
// each entry fn accepts. Replay stops at the first fn failure so a
// still-unreachable server doesn't spin through the whole backlog.
//
// Returns the number of replayed entries.
func (j *Journal) Replay(ctx context.Context, fn func(batch string) error) (int, error) {
	if j.db == nil {
		return 0, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, batch FROM dead_letters ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("reading journal: %w", err)
	}

	type entry struct {
		id    int64
		batch string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.batch); err != nil {
			rows.Close() //nolint:errcheck // Read error takes precedence
			return 0, fmt.Errorf("scanning journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("reading journal: %w", err)
	}

	replayed := 0
	for _, e := range entries {
		if err := fn(e.batch); err != nil {
			return replayed, fmt.Errorf("replaying journal entry %d: %w", e.id, err)
		}
		if _, err := j.db.ExecContext(ctx,
			`DELETE FROM dead_letters WHERE id = ?`, e.id); err != nil {
			return replayed, fmt.Errorf("removing replayed entry %d: %w", e.id, err)
		}
		replayed++
	}

	return replayed, nil
}

// Len returns the number of journalled batches.
func (j *Journal) Len(ctx context.Context) (int, error) {
	if j.db == nil {
		return 0, ErrClosed
	}

	var count int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting journal entries: %w", err)
	}
	return count, nil
}

// HealthCheck verifies the journal file is reachable.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return ErrClosed
	}
	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal health check failed: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
