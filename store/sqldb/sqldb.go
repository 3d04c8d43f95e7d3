/*
Package sqldb provides a relational implementation of the renewal stores.

PURPOSE:
  Implements every persistence interface of the renewal engine on top of
  sqlx. SQLite is the default for local runs and tests; PostgreSQL is the
  production target. Queries are written once with ? placeholders and
  rebound per driver.

INTERFACES IMPLEMENTED:
  renewal.TxStore:          Active tables, archive tables, audit log
  renewal.ConfigStore:      renewal_configs
  renewal.ReminderLogStore: reminder_logs
  renewal.HolderResolver:   companies / consumers

KEY TABLES:
  <type>_policies:          One active table per policy type
  previous_<type>_policies: Append-only archive per policy type
  renewal_configs:          Reminder cadence per service type
  reminder_logs:            Append-only, unique per (type, policy, day)
  audit_log:                Append-only state transition log

STORAGE FORMATS:
  Dates are YYYY-MM-DD text, timestamps UTC RFC3339 text, money decimal
  text. All three compare correctly as strings on both dialects.

CONCURRENCY:
  SQLite runs on a single connection guarded by sync.RWMutex. PostgreSQL
  relies on the database: renewals lock the row with SELECT ... FOR UPDATE.

USAGE:
  store, err := sqldb.Open("sqlite3", "./data/renewals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). Every statement is idempotent.

SEE ALSO:
  - renewal/store.go: Interface definitions
  - renewal/store/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/renewal-engine/renewal"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names used in DB_DRIVER.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Store implements all renewal storage interfaces.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	mu      sync.RWMutex
}

// Open connects to the database and migrates the schema.
// Use ":memory:" with SQLite for an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	store, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection and migrates the schema.
func New(db *sqlx.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

// readLock and writeLock serialize access for SQLite only.
func (s *Store) readLock() func() {
	if s.dialect != SQLite {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) writeLock() func() {
	if s.dialect != SQLite {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// =============================================================================
// TRANSACTIONAL STORE (renewal.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(renewal.PolicyStore) error) error {
	defer s.writeLock()()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore must only touch tx: on SQLite the single connection is held by it.
type txStore struct {
	tx      *sqlx.Tx
	dialect Dialect
}

func (ts *txStore) GetPolicy(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	return getPolicy(ctx, ts.tx, t, id, false)
}

func (ts *txStore) ListExpiring(ctx context.Context, t renewal.PolicyType, from, to time.Time) ([]renewal.Policy, error) {
	return listExpiring(ctx, ts.tx, t, from, to)
}

func (ts *txStore) GetArchived(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.ArchivedPolicy, error) {
	return getArchived(ctx, ts.tx, t, id)
}

func (ts *txStore) ListArchivedByOriginal(ctx context.Context, t renewal.PolicyType, originalID int64) ([]renewal.ArchivedPolicy, error) {
	return listArchivedByOriginal(ctx, ts.tx, t, originalID)
}

func (ts *txStore) LockPolicy(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	return getPolicy(ctx, ts.tx, t, id, ts.dialect == Postgres)
}

func (ts *txStore) InsertPolicy(ctx context.Context, p *renewal.Policy) error {
	return insertPolicy(ctx, ts.tx, p)
}

func (ts *txStore) UpdatePolicyStatus(ctx context.Context, t renewal.PolicyType, id int64, status renewal.Status, at time.Time) error {
	return updatePolicyStatus(ctx, ts.tx, t, id, status, at)
}

func (ts *txStore) DeletePolicy(ctx context.Context, t renewal.PolicyType, id int64) error {
	return deletePolicy(ctx, ts.tx, t, id)
}

func (ts *txStore) InsertArchive(ctx context.Context, a *renewal.ArchivedPolicy) error {
	return insertArchive(ctx, ts.tx, a)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry renewal.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
