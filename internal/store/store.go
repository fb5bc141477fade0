// Package store persists Quill's state: users, notebooks and their child
// resources, API keys, and per-key usage logs. It runs on embedded SQLite by
// default and on PostgreSQL for hosted deployments.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the durable persistence layer. All counter mutation goes through
// single atomic UPDATE statements; callers never read-modify-write counters.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database and runs migrations. For SQLite, dsn is a
// file path (empty means in-memory, used by tests). For PostgreSQL, dsn is a
// standard connection string.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		return openSQLite(dsn)
	case DriverPostgres:
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenDir opens the default SQLite database inside dataDir, creating the
// directory if needed.
func OpenDir(dataDir string) (*Store, error) {
	if dataDir == "" {
		return openSQLite("")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return openSQLite(filepath.Join(dataDir, "quill.db"))
}

func openSQLite(path string) (*Store, error) {
	dsn := ":memory:?_journal_mode=WAL"
	if path != "" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, driver: DriverSQLite}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func openPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db, driver: DriverPostgres}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind translates ?-style placeholders to the dialect's form.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}
