package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// =============================================================================
// MIGRATIONS - ordered, applied once, recorded in schema_migrations
// =============================================================================

// migration is one schema step. Steps never change once released; new
// schema goes into a new version.
type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "create users", execStep(`
		CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT,
			is_admin INTEGER DEFAULT 0
		)`)},
	{2, "create kirim", execStep(`
		CREATE TABLE IF NOT EXISTS kirim (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tanggal DATE,
			warung TEXT,
			jumlah_kirim INTEGER,
			jumlah_terjual INTEGER,
			harga_satuan INTEGER
		)`)},
	// Databases from the earliest revision have no owner column; later
	// ones added it ad hoc, so it may already be there.
	{3, "add kirim.user", addColumnIfMissing("kirim", "user", "TEXT")},
	{4, "index kirim", execStep(`
		CREATE INDEX IF NOT EXISTS idx_kirim_tanggal ON kirim(tanggal);
		CREATE INDEX IF NOT EXISTS idx_kirim_user ON kirim(user)`)},
}

// Migration describes an applied or pending schema step.
type Migration struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Migrate applies every pending migration, each in its own transaction,
// and returns the ones it applied.
func (s *Store) Migrate(ctx context.Context) ([]Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return nil, ledger.Storage("create schema_migrations", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		now := time.Now().UTC()
		if err := s.apply(ctx, m, now); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		applied = append(applied, Migration{Version: m.version, Name: m.name, AppliedAt: now})
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaVersion(ctx)
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, ledger.Storage("read schema version", err)
	}
	return int(v.Int64), nil
}

func (s *Store) apply(ctx context.Context, m migration, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin migration", err)
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return ledger.Storage("apply migration", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, now.Format(time.RFC3339),
	); err != nil {
		return ledger.Storage("record migration", err)
	}
	return ledger.Storage("commit migration", tx.Commit())
}

func execStep(stmt string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}
}

func addColumnIfMissing(table, column, decl string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		exists, err := hasColumn(ctx, tx, table, column)
		if err != nil || exists {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
		return err
	}
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
