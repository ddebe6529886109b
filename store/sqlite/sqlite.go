/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  The default backend. Reads and writes the same kerupuk.db file layout as
  the original application, so an existing database can be pointed at
  directly and upgraded in place by the migrations.

INTERFACES IMPLEMENTED:
  ledger.AccountStore: users table
  ledger.RecordStore:  kirim table (append-only)
  ledger.Store:        WithTx

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the kirim table
  - No DELETE statements on the kirim table

KEY TABLES:
  users:             username, password (bcrypt or legacy plaintext), is_admin
  kirim:             tanggal, warung, jumlah_kirim, jumlah_terjual,
                     harga_satuan, user
  schema_migrations: applied migration versions

QUERIES:
  Every filter is a bound parameter. Month and year are matched with
  strftime against the stored YYYY-MM-DD text, the outlet with instr so the
  match stays case-sensitive (LIKE is not, for ASCII).

UNREADABLE ROWS:
  A kirim row whose tanggal is NULL or not a date cannot be placed in any
  report. QueryRecords skips it and logs a warning naming the row ID, so
  one bad legacy row does not take every report down with it.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, so Register's check-count-insert cannot interleave.

USAGE:
  store, err := sqlite.New("./kerupuk.db", sqlite.WithLogger(log))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  accounts := ledger.NewAccounts(store, nil)

SEE ALSO:
  - migrations.go: versioned schema
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped rows. Defaults to a no-op.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

var _ ledger.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	s, err := Open(dbPath, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Open opens the database without migrating it.
func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate empty database.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return ledger.Storage("ping", s.db.PingContext(ctx))
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, username string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, username)
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countAccounts(ctx, s.db)
}

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAccount(ctx, s.db, a)
}

func (s *Store) UpdatePassword(ctx context.Context, username string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePassword(ctx, s.db, username, hash)
}

func (s *Store) SetAdmin(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setAdmin(ctx, s.db, username)
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, filter)
}

func getAccount(ctx context.Context, db querier, username string) (*ledger.Account, error) {
	var (
		a        ledger.Account
		password sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT username, password, COALESCE(is_admin, 0) FROM users WHERE username = ?`,
		username,
	).Scan(&a.Username, &password, &a.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.Storage("get account", err)
	}
	a.PasswordHash = []byte(password.String)
	return &a, nil
}

func countAccounts(ctx context.Context, db querier) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, ledger.Storage("count accounts", err)
	}
	return n, nil
}

func insertAccount(ctx context.Context, db querier, a ledger.Account) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password, is_admin) VALUES (?, ?, ?)`,
		a.Username, string(a.PasswordHash), boolInt(a.IsAdmin),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateUsername
		}
		return ledger.Storage("insert account", err)
	}
	return nil
}

func updatePassword(ctx context.Context, db querier, username string, hash []byte) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET password = ? WHERE username = ?`, string(hash), username)
	if err != nil {
		return ledger.Storage("update password", err)
	}
	return requireRow(res, "update password")
}

func setAdmin(ctx context.Context, db querier, username string) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET is_admin = 1 WHERE username = ?`, username)
	if err != nil {
		return ledger.Storage("set admin", err)
	}
	return requireRow(res, "set admin")
}

func listAccounts(ctx context.Context, db querier, filter ledger.AccountFilter) ([]ledger.Account, error) {
	query := `SELECT username, password, COALESCE(is_admin, 0) FROM users`
	var args []any
	if filter.AdminOnly != nil {
		query += ` WHERE COALESCE(is_admin, 0) = ?`
		args = append(args, boolInt(*filter.AdminOnly))
	}
	query += ` ORDER BY username`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("list accounts", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var (
			a        ledger.Account
			password sql.NullString
		)
		if err := rows.Scan(&a.Username, &password, &a.IsAdmin); err != nil {
			return nil, ledger.Storage("scan account", err)
		}
		a.PasswordHash = []byte(password.String)
		out = append(out, a)
	}
	return out, ledger.Storage("list accounts", rows.Err())
}

// =============================================================================
// RECORD STORE (append-only)
// =============================================================================

// AppendRecord adds a delivery record and returns it with its new ID.
func (s *Store) AppendRecord(ctx context.Context, rec ledger.DeliveryRecord) (ledger.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRecord(ctx, s.db, rec)
}

// QueryRecords returns matching records ordered by date, then ID.
func (s *Store) QueryRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRecords(ctx, s.db, s.log, filter)
}

func appendRecord(ctx context.Context, db querier, rec ledger.DeliveryRecord) (ledger.DeliveryRecord, error) {
	query := `
		INSERT INTO kirim
		(tanggal, warung, jumlah_kirim, jumlah_terjual, harga_satuan, user)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := db.ExecContext(ctx, query,
		rec.Date.String(),
		rec.OutletName,
		rec.QuantityDelivered,
		rec.QuantitySold,
		rec.UnitPrice,
		nullString(rec.OwnerUsername),
	)
	if err != nil {
		return ledger.DeliveryRecord{}, ledger.Storage("append record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.DeliveryRecord{}, ledger.Storage("append record", err)
	}
	rec.ID = ledger.RecordID(id)
	return rec, nil
}

// queryRecords reads tanggal as plain text. The driver would otherwise turn
// an unparsable DATE value into the zero time.
func queryRecords(ctx context.Context, db querier, log *zap.Logger, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	where, args := recordWhere(filter)
	query := `
		SELECT id, CAST(tanggal AS TEXT), warung, jumlah_kirim, jumlah_terjual, harga_satuan, user
		FROM kirim` + where + `
		ORDER BY tanggal, id
	`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("query records", err)
	}
	defer rows.Close()

	var out []ledger.DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		var bad *badRowError
		if errors.As(err, &bad) {
			log.Warn("skipping unreadable delivery record",
				zap.Int64("id", bad.id), zap.String("tanggal", bad.tanggal), zap.Error(bad.err))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, ledger.Storage("query records", rows.Err())
}

// recordWhere translates a RecordFilter into a parameterized WHERE clause.
func recordWhere(f ledger.RecordFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Owner != nil {
		conds = append(conds, "user = ?")
		args = append(args, *f.Owner)
	}
	if f.Date != nil {
		conds = append(conds, "date(tanggal) = ?")
		args = append(args, f.Date.String())
	}
	if f.Month != 0 {
		conds = append(conds, "strftime('%m', tanggal) = ?")
		args = append(args, ledger.PadMonth(f.Month))
	}
	if f.Year != 0 {
		conds = append(conds, "strftime('%Y', tanggal) = ?")
		args = append(args, ledger.PadYear(f.Year))
	}
	if f.OutletContains != "" {
		conds = append(conds, "instr(warung, ?) > 0")
		args = append(args, f.OutletContains)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}

// badRowError marks a row that scanned but whose date cannot be read.
type badRowError struct {
	id      int64
	tanggal string
	err     error
}

func (e *badRowError) Error() string {
	return fmt.Sprintf("record %d: %v", e.id, e.err)
}

var errNullDate = errors.New("tanggal is NULL")

func scanRecord(rows *sql.Rows) (ledger.DeliveryRecord, error) {
	var (
		rec     ledger.DeliveryRecord
		id      int64
		tanggal sql.NullString
		warung  sql.NullString
		kirim   sql.NullInt64
		terjual sql.NullInt64
		harga   sql.NullInt64
		owner   sql.NullString
	)
	if err := rows.Scan(&id, &tanggal, &warung, &kirim, &terjual, &harga, &owner); err != nil {
		return rec, ledger.Storage("scan record", err)
	}
	if !tanggal.Valid {
		return rec, &badRowError{id: id, err: errNullDate}
	}
	date, err := ledger.ParseStoredDate(tanggal.String)
	if err != nil {
		return rec, &badRowError{id: id, tanggal: tanggal.String, err: err}
	}
	rec.ID = ledger.RecordID(id)
	rec.Date = date
	rec.OutletName = warung.String
	rec.QuantityDelivered = kirim.Int64
	rec.QuantitySold = terjual.Int64
	rec.UnitPrice = harga.Int64
	rec.OwnerUsername = owner.String
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, log: s.log}); err != nil {
		return err
	}
	return ledger.Storage("commit", sqlTx.Commit())
}

// txStore runs every call on the open transaction. The parent's lock is
// already held, so it takes no locks of its own.
type txStore struct {
	tx  *sql.Tx
	log *zap.Logger
}

func (ts *txStore) GetAccount(ctx context.Context, username string) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, username)
}

func (ts *txStore) CountAccounts(ctx context.Context) (int, error) {
	return countAccounts(ctx, ts.tx)
}

func (ts *txStore) InsertAccount(ctx context.Context, a ledger.Account) error {
	return insertAccount(ctx, ts.tx, a)
}

func (ts *txStore) UpdatePassword(ctx context.Context, username string, hash []byte) error {
	return updatePassword(ctx, ts.tx, username, hash)
}

func (ts *txStore) SetAdmin(ctx context.Context, username string) error {
	return setAdmin(ctx, ts.tx, username)
}

func (ts *txStore) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx, filter)
}

func (ts *txStore) AppendRecord(ctx context.Context, rec ledger.DeliveryRecord) (ledger.DeliveryRecord, error) {
	return appendRecord(ctx, ts.tx, rec)
}

func (ts *txStore) QueryRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	return queryRecords(ctx, ts.tx, ts.log, filter)
}

// WithTx inside a transaction reuses it.
func (ts *txStore) WithTx(_ context.Context, fn func(store ledger.Store) error) error {
	return fn(ts)
}

// Helper functions

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

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Storage(op, err)
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
