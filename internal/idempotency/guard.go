// Package idempotency provides a durable exactly-once execution wrapper
// for side-effecting operations. A SQLite store holds one record per
// operation key; the state machine is PROCESSING -> COMPLETED | FAILED,
// where FAILED keys may be re-claimed and COMPLETED keys return the cached
// result until the TTL expires.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record statuses as stored.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// StatusDuplicate marks a Result served from cache rather than execution.
const StatusDuplicate = "DUPLICATE"

// DefaultTTL is how long a record is honored, measured from last update.
const DefaultTTL = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS idempotency (
	key        TEXT PRIMARY KEY,
	status     TEXT NOT NULL CHECK(status IN ('PROCESSING','COMPLETED','FAILED')),
	result     TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// ConflictError reports a concurrent in-flight duplicate: the same key is
// PROCESSING. It signals "try again later", not failure.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q is already in flight", e.Key)
}

// Result is the outcome of ExecuteOnce. WasCached is true when the wrapped
// operation was not invoked because a completed record already existed.
type Result struct {
	Key       string
	Status    string
	Result    any
	WasCached bool
}

// Operation is the side-effecting work to run at most once per key. The
// returned value must be JSON-serializable; it is cached for duplicates.
type Operation func(ctx context.Context) (any, error)

// Guard is the SQLite-backed idempotency store.
type Guard struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTTL overrides the record expiry, measured from last update.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) { g.ttl = ttl }
}

// WithGuardLogger overrides the default logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard opens (creating if needed) the store at dbPath.
func NewGuard(dbPath string, opts ...GuardOption) (*Guard, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create idempotency directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("failed to open idempotency store: %w", err)
	}
	// SQLite allows one writer; funneling through a single connection avoids
	// SQLITE_BUSY between claim and finalize.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create idempotency schema: %w", err)
	}

	g := &Guard{db: db, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close releases the underlying store.
func (g *Guard) Close() error {
	return g.db.Close()
}

func nowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

func (g *Guard) cutoffISO() string {
	return time.Now().UTC().Truncate(time.Second).Add(-g.ttl).Format(time.RFC3339)
}

// PurgeExpired deletes records whose last update is older than the TTL.
// It also runs lazily on every access, so calling it is optional.
func (g *Guard) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := g.db.ExecContext(ctx, "DELETE FROM idempotency WHERE updated_at < ?", g.cutoffISO())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged records: %w", err)
	}
	return n, nil
}

// claim resolves the key's current state: a cached Result for COMPLETED, a
// ConflictError for PROCESSING, or nil after inserting a fresh PROCESSING
// claim (deleting a FAILED record first).
func (g *Guard) claim(ctx context.Context, key string) (*Result, error) {
	if _, err := g.PurgeExpired(ctx); err != nil {
		return nil, err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	var payload sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT status, result FROM idempotency WHERE key = ?", key).
		Scan(&status, &payload)
	switch {
	case err == nil:
		switch status {
		case StatusCompleted:
			if !payload.Valid {
				return nil, fmt.Errorf("idempotency record for key %q has no cached result", key)
			}
			var cached any
			if err := json.Unmarshal([]byte(payload.String), &cached); err != nil {
				return nil, fmt.Errorf("failed to decode cached result for key %q: %w", key, err)
			}
			return &Result{Key: key, Status: StatusDuplicate, Result: cached, WasCached: true}, nil
		case StatusProcessing:
			return nil, &ConflictError{Key: key}
		case StatusFailed:
			if _, err := tx.ExecContext(ctx, "DELETE FROM idempotency WHERE key = ?", key); err != nil {
				return nil, fmt.Errorf("failed to delete failed record: %w", err)
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		// fresh key
	default:
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	now := nowISO()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO idempotency(key, status, result, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)",
		key, StatusProcessing, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return nil, nil
}

func (g *Guard) finalize(ctx context.Context, key, status string, payload *string) error {
	_, err := g.db.ExecContext(ctx,
		"UPDATE idempotency SET status = ?, result = ?, updated_at = ? WHERE key = ?",
		status, payload, nowISO(), key)
	return err
}

// ExecuteOnce runs op at most once for the given key. A completed key
// returns the cached result without invoking op; an in-flight key returns
// a ConflictError; a failed key is re-claimed so the retry runs op again.
// If op fails, the record is marked FAILED best-effort and op's error is
// returned unmodified.
func (g *Guard) ExecuteOnce(ctx context.Context, key string, op Operation) (Result, error) {
	if strings.TrimSpace(key) == "" {
		return Result{}, fmt.Errorf("idempotency key is required")
	}

	cached, err := g.claim(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if cached != nil {
		return *cached, nil
	}

	value, opErr := op(ctx)
	if opErr != nil {
		if ferr := g.finalize(ctx, key, StatusFailed, nil); ferr != nil {
			// Best effort: never mask the operation's own error.
			g.logger.Warn("idempotency_failed_mark_lost", "key", key, "error", ferr)
		}
		return Result{}, opErr
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		if ferr := g.finalize(ctx, key, StatusFailed, nil); ferr != nil {
			g.logger.Warn("idempotency_failed_mark_lost", "key", key, "error", ferr)
		}
		return Result{}, fmt.Errorf("failed to encode operation result: %w", err)
	}
	payload := string(encoded)
	if err := g.finalize(ctx, key, StatusCompleted, &payload); err != nil {
		return Result{}, fmt.Errorf("failed to persist completed record: %w", err)
	}

	return Result{Key: key, Status: StatusCompleted, Result: value, WasCached: false}, nil
}

// IsCompleted reports whether the key has an unexpired COMPLETED record.
func (g *Guard) IsCompleted(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, fmt.Errorf("idempotency key is required")
	}
	if _, err := g.PurgeExpired(ctx); err != nil {
		return false, err
	}

	var status string
	err := g.db.QueryRowContext(ctx, "SELECT status FROM idempotency WHERE key = ?", key).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return status == StatusCompleted, nil
}

// Clear removes the key's record regardless of status. Admin escape hatch;
// the automated paths never call it.
func (g *Guard) Clear(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if _, err := g.db.ExecContext(ctx, "DELETE FROM idempotency WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to clear idempotency record: %w", err)
	}
	return nil
}
