package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Supported database/sql driver names.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite3"
)

// Options configures Open.
type Options struct {
	Driver string // DriverDuckDB (default) or DriverSQLite
	Path   string // database file; created with its parent directory if missing
}

// Store is the per-user local database: mirrored entity tables plus sync
// bookkeeping. All writes go through one mutex so the entity row, its sync
// metadata and its log entry are never interleaved with another write.
type Store struct {
	db     *sql.DB
	driver string
	path   string

	writeMu sync.Mutex

	// failpoint, when set, is consulted at each stage of a write so tests can
	// force a failure mid-transaction.
	failpoint func(stage string) error

	content *ContentRepo
	tags    *TagRepo
	graph   *GraphRepo
}

// Open opens (creating if needed) the local store and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverDuckDB
	}
	if opts.Path == "" {
		return nil, serr.New("local store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, serr.Wrap(err, "failed to create database directory")
	}

	dsn := opts.Path
	if opts.Driver == DriverSQLite {
		dsn = "file:" + opts.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open local store")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, serr.Wrap(err, "failed to ping local store")
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, serr.Wrap(err, "failed to migrate local store")
	}

	s := &Store{db: db, driver: opts.Driver, path: opts.Path}
	s.content = &ContentRepo{s: s}
	s.tags = &TagRepo{s: s}
	s.graph = &GraphRepo{s: s}

	logger.Info("Local store opened", "driver", opts.Driver, "path", opts.Path)
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	// Wait for an in-flight write to finish
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Close()
}

func (s *Store) Content() *ContentRepo { return s.content }
func (s *Store) Tags() *TagRepo        { return s.tags }
func (s *Store) Graph() *GraphRepo     { return s.graph }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// write runs fn in a serialized transaction. Any failure rolls back every
// effect of fn and comes back as *Error.
func (s *Store) write(ctx context.Context, op string, fn func(ctx context.Context, tx DBTX) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return storeErr(op, withTx(ctx, s.db, fn))
}

func (s *Store) checkFailpoint(stage string) error {
	if s.failpoint == nil {
		return nil
	}
	return s.failpoint(stage)
}
