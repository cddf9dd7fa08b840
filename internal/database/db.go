package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	driverName = "sqlite3"
	memoryPath = ":memory:"
)

type connConfig struct {
	path         string
	busyTimeout  int
	maxOpenConns int
	maxIdleConns int
}

// Option configures a store connection.
type Option func(*connConfig)

// WithBusyTimeout sets how long, in milliseconds, a writer waits for a lock
// before failing.
func WithBusyTimeout(ms int) Option {
	return func(c *connConfig) { c.busyTimeout = ms }
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *connConfig) { c.maxOpenConns = n }
}

// OpenConnection opens a configured SQLite connection pool.
// path can be a file path or ":memory:" for an in-memory database.
//
// File databases use WAL with a busy timeout so concurrent workers never
// observe half-written rows. An in-memory database is private to a single
// connection, so its pool is pinned to one.
func OpenConnection(path string, opts ...Option) (*sqlx.DB, error) {
	cfg := &connConfig{
		path:         path,
		busyTimeout:  5000,
		maxOpenConns: 4,
		maxIdleConns: 2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == memoryPath {
		dsn = fmt.Sprintf("file::memory:?_foreign_keys=on&_busy_timeout=%d", cfg.busyTimeout)
		cfg.maxOpenConns = 1
		cfg.maxIdleConns = 1
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		q := url.Values{}
		q.Set("mode", "rwc")
		q.Set("_journal_mode", "WAL")
		q.Set("_busy_timeout", fmt.Sprint(cfg.busyTimeout))
		q.Set("_foreign_keys", "on")
		q.Set("_txlock", "immediate")
		dsn = "file:" + cfg.path + "?" + q.Encode()
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	return db, nil
}
