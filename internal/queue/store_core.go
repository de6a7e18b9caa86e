package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rivalcast/internal/config"
)

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	maxRetries      int
	retryBackoff    time.Duration
	retryBackoffMax time.Duration
	clock           func() time.Time
}

// sqliteBusy is SQLITE_BUSY. Extended codes keep it in the low byte.
const sqliteBusy = 5

// busyBackoff is the wait before each retry of a statement that hit a locked
// database. Its length bounds the retries.
var busyBackoff = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	40 * time.Millisecond,
	80 * time.Millisecond,
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == sqliteBusy
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// retryOnBusy runs op again while it fails with SQLITE_BUSY, beyond what the
// connection busy_timeout already absorbed.
func retryOnBusy(ctx context.Context, op func() error) error {
	err := op()
	for _, wait := range busyBackoff {
		if !isSQLiteBusy(err) {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = op()
	}
	return err
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() (err error) {
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.execWithRetry(ctx, query, args...)
	return err
}

// Options tunes store behaviour that is not part of the schema.
type Options struct {
	// MaxRetries is applied to enqueued tasks that do not set their own.
	MaxRetries int
	// RetryBackoff is the delay before the first retry; zero retries immediately.
	RetryBackoff time.Duration
	// RetryBackoffMax caps the doubled backoff.
	RetryBackoffMax time.Duration
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Open initializes or connects to the task database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	base, maxDelay := cfg.RetryBackoff()
	return OpenPath(cfg.DatabasePath(), Options{
		MaxRetries:      cfg.Dispatcher.MaxRetries,
		RetryBackoff:    base,
		RetryBackoffMax: maxDelay,
	})
}

// OpenPath opens the database at dbPath, creating the schema when needed.
// Pragmas travel in the DSN so every pooled connection gets them, and
// transactions take the write lock up front.
func OpenPath(dbPath string, opts Options) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	store := &Store{
		db:              db,
		path:            dbPath,
		maxRetries:      max(opts.MaxRetries, 0),
		retryBackoff:    opts.RetryBackoff,
		retryBackoffMax: opts.RetryBackoffMax,
		clock:           clock,
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// backoffFor returns the delay before retry attempt n (1-based).
func (s *Store) backoffFor(attempt int) time.Duration {
	if s.retryBackoff <= 0 || attempt <= 0 {
		return 0
	}
	ceiling := s.retryBackoffMax
	if ceiling <= 0 {
		ceiling = s.retryBackoff << 16
	}
	delay := s.retryBackoff
	for range attempt - 1 {
		if delay >= ceiling {
			break
		}
		delay *= 2
	}
	return min(delay, ceiling)
}
