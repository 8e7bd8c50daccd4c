package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Ledger counts calls per caller identity in fixed windows, backed by
// SQLite. The count for the current window includes the request being
// evaluated, and a rejected request still counts against the quota.
type Ledger struct {
	db     *sql.DB
	limit  int64
	window time.Duration
	logger *zap.Logger

	// now is swappable in tests to cross window boundaries.
	now func() time.Time
}

// Result is the outcome of a single check-and-increment.
type Result struct {
	Count   int64
	Allowed bool
	ResetAt time.Time
}

const createCountersTable = `
CREATE TABLE IF NOT EXISTS quota_counters (
	caller_id TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	call_count INTEGER NOT NULL,
	PRIMARY KEY (caller_id, window_start)
);
`

type Config struct {
	Path   string        // SQLite database path
	Limit  int64         // calls permitted per window
	Window time.Duration // fixed window size; <= 0 means a single unbounded window
}

// Open creates the ledger and runs auto-migration.
func Open(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("quota: limit must be positive, got %d", cfg.Limit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	// SQLite allows one writer at a time; a second connection would just
	// contend on the write lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCountersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &Ledger{
		db:     db,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: logger.Named("quota"),
		now:    time.Now,
	}, nil
}

// CheckAndIncrement records one call for callerID and reports whether it
// is within quota. The increment is a single atomic upsert, so
// concurrent calls for the same caller each observe a distinct count
// with no lost updates. A storage failure returns an error and the
// caller must fail closed.
func (l *Ledger) CheckAndIncrement(ctx context.Context, callerID string) (Result, error) {
	windowStart, resetAt := l.windowBounds()

	var count int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO quota_counters (caller_id, window_start, call_count)
		VALUES (?, ?, 1)
		ON CONFLICT(caller_id, window_start) DO UPDATE SET
			call_count = call_count + 1
		RETURNING call_count`,
		callerID, windowStart.Unix(),
	).Scan(&count)
	if err != nil {
		return Result{}, fmt.Errorf("quota increment for %q: %w", callerID, err)
	}

	allowed := count <= l.limit
	if !allowed {
		l.logger.Warn("quota exceeded",
			zap.String("caller_id", callerID),
			zap.Int64("call_count", count),
			zap.Int64("limit", l.limit),
			zap.Time("reset_at", resetAt),
		)
	}

	return Result{Count: count, Allowed: allowed, ResetAt: resetAt}, nil
}

// Count returns the current window's count for callerID without
// incrementing. Zero if the caller has not been seen this window.
func (l *Ledger) Count(ctx context.Context, callerID string) (int64, error) {
	windowStart, _ := l.windowBounds()

	var count int64
	err := l.db.QueryRowContext(ctx, `
		SELECT call_count FROM quota_counters
		WHERE caller_id = ? AND window_start = ?`,
		callerID, windowStart.Unix(),
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota count for %q: %w", callerID, err)
	}
	return count, nil
}

// Limit returns the per-window call limit.
func (l *Ledger) Limit() int64 {
	return l.limit
}

func (l *Ledger) windowBounds() (start, reset time.Time) {
	if l.window <= 0 {
		// Single unbounded window: counts accumulate forever.
		return time.Unix(0, 0), time.Time{}
	}
	start = l.now().UTC().Truncate(l.window)
	return start, start.Add(l.window)
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
