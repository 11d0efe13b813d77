/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the service on one SQLite
  database. The engine packages only see the interfaces.

INTERFACES IMPLEMENTED:
  adherence.TxStore:  medications, rules, plans, check-ins, photos
  adherence.RunStore: materialization audit trail
  care.Store:         users and supervision edges

NATURAL KEY ENFORCEMENT:
  daily_plans carries UNIQUE(user_id, medication_id, plan_date,
  scheduled_time). InsertPlan uses ON CONFLICT DO NOTHING on that key and
  reports a no-op insert as adherence.ErrDuplicatePlan, so two materializers
  racing on the same day never produce two rows.

KEY TABLES:
  users:                accounts with bcrypt hashes and invite codes
  medications:          metadata and default dose
  recurrence_rules:     ordered (time, weekday mask, dose) per medication
  daily_plans:          materialized intake obligations
  checkins:             intake events, optionally linked to a plan
  checkin_photos:       PRIMARY KEY(checkin_id, sort_order), upserted
  supervisions:         UNIQUE(supervisor_id, supervised_id)
  materialization_runs: audit rows

CASCADES:
  Deleting a medication removes its rules, plans, check-ins and photos via
  ON DELETE CASCADE. Deleting plans alone unlinks check-ins (SET NULL).

CONCURRENCY:
  The pool is capped at one connection: SQLite has a single writer anyway,
  and ":memory:" databases are per connection. A transaction holds that
  connection until it commits, so calls made inside WithTx must go through
  the Store passed to fn.

WAL MODE:
  File databases are opened with WAL so readers do not block the writer.

USAGE:
  store, err := sqlite.New("./data/adherence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := adherence.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - adherence/store.go: interface definitions
  - adherence/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/care"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// executor implements every query against either the pool or a transaction.
type executor struct {
	q queryer
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	executor
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{executor: executor{q: db}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		invite_code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS medications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		default_dose TEXT NOT NULL,
		dose_unit TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_medications_user ON medications(user_id);
	CREATE INDEX IF NOT EXISTS idx_medications_active ON medications(active);

	-- Ordered rule set; replaced as a whole by SetRules
	CREATE TABLE IF NOT EXISTS recurrence_rules (
		medication_id TEXT NOT NULL REFERENCES medications(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		time_of_day TEXT NOT NULL,
		days_mask INTEGER NOT NULL,
		dose TEXT,
		dose_unit TEXT NOT NULL DEFAULT '',
		require_photo INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (medication_id, position)
	);

	-- CRITICAL: one plan per (user, medication, day, time)
	CREATE TABLE IF NOT EXISTS daily_plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		medication_id TEXT NOT NULL REFERENCES medications(id) ON DELETE CASCADE,
		plan_date TEXT NOT NULL,
		scheduled_time TEXT NOT NULL,
		dose TEXT NOT NULL,
		dose_unit TEXT NOT NULL,
		is_taken INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, medication_id, plan_date, scheduled_time)
	);

	CREATE INDEX IF NOT EXISTS idx_daily_plans_user_date ON daily_plans(user_id, plan_date);
	CREATE INDEX IF NOT EXISTS idx_daily_plans_medication ON daily_plans(medication_id);

	CREATE TABLE IF NOT EXISTS checkins (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		medication_id TEXT NOT NULL REFERENCES medications(id) ON DELETE CASCADE,
		plan_id TEXT REFERENCES daily_plans(id) ON DELETE SET NULL,
		planned_at TEXT,
		actual_at TEXT NOT NULL,
		dose TEXT NOT NULL,
		dose_unit TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_makeup INTEGER NOT NULL DEFAULT 0,
		makeup_reason TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkins_user_actual ON checkins(user_id, actual_at);
	CREATE INDEX IF NOT EXISTS idx_checkins_plan ON checkins(plan_id) WHERE plan_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS checkin_photos (
		checkin_id TEXT NOT NULL REFERENCES checkins(id) ON DELETE CASCADE,
		sort_order INTEGER NOT NULL,
		url TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (checkin_id, sort_order)
	);

	CREATE TABLE IF NOT EXISTS supervisions (
		id TEXT PRIMARY KEY,
		supervisor_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		supervised_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		relation_type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (supervisor_id, supervised_id)
	);

	CREATE INDEX IF NOT EXISTS idx_supervisions_supervised ON supervisions(supervised_id);

	CREATE TABLE IF NOT EXISTS materialization_runs (
		id TEXT PRIMARY KEY,
		plan_date TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		medications INTEGER NOT NULL,
		created INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_materialization_runs_started ON materialization_runs(started_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (adherence.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store adherence.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&executor{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"checkin_photos", "checkins", "daily_plans", "recurrence_rules",
		"medications", "supervisions", "users", "materialization_runs",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Helper functions

// Fixed width so that text order is chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bad decimal %q: %w", s, err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// violatedColumn reports whether a constraint error names table.column.
func violatedColumn(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), column)
}

var (
	_ adherence.TxStore  = (*Store)(nil)
	_ adherence.RunStore = (*Store)(nil)
	_ care.Store         = (*Store)(nil)
	_ adherence.Store    = (*executor)(nil)
)
