package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Options selects and addresses the backing database.
type Options struct {
	Driver    string // "sqlite" (default) or "libsql"
	Path      string // sqlite file path
	URL       string // libsql database URL
	AuthToken string // libsql auth token
}

// Store handles all database operations
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new Store with a local SQLite backend
func New(dbPath string) (*Store, error) {
	return Open(Options{Driver: DriverSQLite, Path: dbPath})
}

// Open connects to the configured database and applies the schema.
func Open(opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}

	var dsn string
	switch opts.Driver {
	case DriverSQLite:
		if opts.Path == "" {
			return nil, errors.New("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
		dsn = opts.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverLibSQL:
		if opts.URL == "" {
			return nil, errors.New("libsql url is required")
		}
		dsn = opts.URL
		if opts.AuthToken != "" {
			dsn = fmt.Sprintf("%s?authToken=%s", opts.URL, opts.AuthToken)
		}
	default:
		return nil, errors.Errorf("unknown storage driver: %s", opts.Driver)
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", opts.Driver)
	}
	// One connection: transaction statements issued from several goroutines
	// are serialized on it, and sqlite never sees a second writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, driver: opts.Driver, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which driver backs the store.
func (s *Store) Driver() string { return s.driver }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock overrides the time source used for created/updated stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate(ctx context.Context) error {
	if s.driver == DriverLibSQL {
		if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return errors.Wrap(err, "enable foreign keys")
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema: %.40s", stmt)
		}
	}
	return nil
}

// Begin opens a transaction. The returned Tx may be used from several
// goroutines until it is committed or rolled back.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &Tx{tx: tx, now: s.now}, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}
