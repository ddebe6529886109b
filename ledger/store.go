/*
store.go - Persistence interfaces for accounts and delivery records

PURPOSE:
  Defines the interface between the ledger services and the database.
  Implementations: store/sqlite (default), store/gormstore (Postgres via
  gorm), ledger/store (in-memory, for tests and dev).

APPEND-ONLY CONTRACT:
  RecordStore has exactly one write: AppendRecord. There is no Update or
  Delete for delivery records in any implementation.

ATOMICITY:
  Store.WithTx runs fn inside one storage transaction. Register uses it so
  the duplicate check, the first-account count and the insert are atomic.

ERRORS:
  Implementations return ErrDuplicateUsername for a username collision and
  wrap every other engine failure with Storage(op, err).
*/
package ledger

import "context"

// AccountStore persists the users table.
type AccountStore interface {
	// GetAccount returns nil, nil when the username does not exist.
	GetAccount(ctx context.Context, username string) (*Account, error)

	// CountAccounts returns the number of accounts ever created.
	CountAccounts(ctx context.Context) (int, error)

	// InsertAccount creates an account. Returns ErrDuplicateUsername on collision.
	InsertAccount(ctx context.Context, account Account) error

	// UpdatePassword replaces the stored hash. Returns ErrAccountNotFound.
	UpdatePassword(ctx context.Context, username string, hash []byte) error

	// SetAdmin sets is_admin = true. Idempotent. Returns ErrAccountNotFound.
	SetAdmin(ctx context.Context, username string) error

	// ListAccounts returns matching accounts ordered by username.
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
}

// RecordStore persists the kirim table. APPEND-ONLY.
type RecordStore interface {
	// AppendRecord stores a new record and returns it with its assigned ID.
	// rec.ID is ignored.
	AppendRecord(ctx context.Context, rec DeliveryRecord) (DeliveryRecord, error)

	// QueryRecords returns matching records ordered by date, then ID.
	QueryRecords(ctx context.Context, filter RecordFilter) ([]DeliveryRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	AccountStore
	RecordStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
