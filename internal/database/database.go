package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Pragmas applied to every pooled connection. Setting them through Exec
// would only reach whichever connection happened to run the statement.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

// DB wraps a SQLite database connection. It is safe for concurrent use by
// pipeline workers.
type DB struct {
	conn   *sql.DB
	path   string
	logger zerolog.Logger
}

// Option configures Open.
type Option func(*DB)

// WithLogger sets the logger used for migrations and best-effort writes.
func WithLogger(logger zerolog.Logger) Option {
	return func(db *DB) {
		db.logger = logger.With().Str("component", "database").Logger()
	}
}

// dsn builds the modernc DSN for dbPath. Write transactions take the lock
// up front so a waiting writer goes through busy_timeout instead of failing
// on a lock upgrade.
func dsn(dbPath string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + q.Encode()
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db := &DB{path: dbPath, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(db)
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := migrate(conn, db.logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	db.conn = conn
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
