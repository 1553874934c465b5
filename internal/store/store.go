package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/namegraph/internal/entity"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the storage contract handlers are written against.
// Find returns a nil row and nil error when the id is absent.
type Store interface {
	Find(ctx context.Context, kind entity.Kind, id string) (entity.Row, error)
	UpsertIgnore(ctx context.Context, row entity.Row) error
	UpsertMerge(ctx context.Context, row entity.Row, patch entity.Patch) error
	Delete(ctx context.Context, kind entity.Kind, id string) error
	CountChildren(ctx context.Context, parentID string) (int64, error)
}

// Transactor runs a function against a transaction-bound Store. If fn
// returns an error nothing it wrote is kept.
type Transactor interface {
	Atomic(ctx context.Context, fn func(Store) error) error
}

// DB is the SQLite implementation of Store and Transactor.
type DB struct {
	db    *sql.DB
	cache *lru.Cache[string, entity.Row]
	base  *executor
}

// Option configures a DB.
type Option func(*DB) error

// WithRowCache enables an LRU cache of size rows in front of Find.
func WithRowCache(size int) Option {
	return func(d *DB) error {
		if size <= 0 {
			return nil
		}
		c, err := lru.New[string, entity.Row](size)
		if err != nil {
			return fmt.Errorf("row cache: %w", err)
		}
		d.cache = c
		return nil
	}
}

// Open creates or opens a SQLite database at path and migrates it to the
// latest schema. ":memory:" gives a private in-memory database.
func Open(path string, opts ...Option) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	d := &DB{db: db}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			db.Close()
			return nil, err
		}
	}
	d.base = &executor{q: db, cache: d.cache, populate: true}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applyMigrations brings the schema up to date. The migrate instance is not
// closed: closing it would close db.
func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (d *DB) SchemaVersion(ctx context.Context) (uint, error) {
	var version uint
	var dirty bool
	err := d.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *DB) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := d.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
