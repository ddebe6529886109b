/*
Package gormstore provides a gorm-backed implementation of ledger.Store.

PURPOSE:
  The Postgres backend (storage.driver: postgres). The tables keep the
  names and columns of the SQLite layout so data moves between the two
  with a plain copy. Tests run the same code over gorm's sqlite driver.

DIALECTS:
  Month and year are matched with substr on the YYYY-MM-DD text, which both
  Postgres and SQLite support. The case-sensitive outlet match uses strpos
  on Postgres and instr on SQLite.

ATOMICITY:
  WithTx runs fn in one gorm transaction. On Postgres the users table is
  locked in SHARE ROW EXCLUSIVE mode first, so two Register transactions
  cannot both count zero accounts.

UNREADABLE ROWS:
  A kirim row with a NULL or unparsable tanggal is skipped by QueryRecords
  and logged as a warning with its ID.
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// =============================================================================
// MODELS
// =============================================================================

type userRow struct {
	Username string `gorm:"column:username;primaryKey;size:64"`
	Password string `gorm:"column:password"`
	IsAdmin  bool   `gorm:"column:is_admin;not null;default:false"`
}

func (userRow) TableName() string { return "users" }

type kirimRow struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Tanggal       *string `gorm:"column:tanggal;type:varchar(10);index:idx_kirim_tanggal"`
	Warung        string  `gorm:"column:warung"`
	JumlahKirim   int64   `gorm:"column:jumlah_kirim"`
	JumlahTerjual int64   `gorm:"column:jumlah_terjual"`
	HargaSatuan   int64   `gorm:"column:harga_satuan"`
	User          *string `gorm:"column:user;index:idx_kirim_user"`
}

func (kirimRow) TableName() string { return "kirim" }

func (r kirimRow) record() (ledger.DeliveryRecord, error) {
	if r.Tanggal == nil {
		return ledger.DeliveryRecord{}, errNullDate
	}
	date, err := ledger.ParseStoredDate(*r.Tanggal)
	if err != nil {
		return ledger.DeliveryRecord{}, err
	}
	rec := ledger.DeliveryRecord{
		ID:                ledger.RecordID(r.ID),
		Date:              date,
		OutletName:        r.Warung,
		QuantityDelivered: r.JumlahKirim,
		QuantitySold:      r.JumlahTerjual,
		UnitPrice:         r.HargaSatuan,
	}
	if r.User != nil {
		rec.OwnerUsername = *r.User
	}
	return rec, nil
}

var errNullDate = errors.New("tanggal is NULL")

// =============================================================================
// STORE
// =============================================================================

// Store implements ledger.Store over a *gorm.DB.
type Store struct {
	db  *gorm.DB
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

// OpenPostgres connects to Postgres with the given DSN and migrates.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	return Open(postgres.Open(dsn), opts...)
}

// Open connects through any gorm dialector and migrates the schema.
func Open(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite has a single writer, and every ":memory:" connection is
		// its own database.
		sqlDB.SetMaxOpenConns(1)
	}
	s := New(db, opts...)
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an already opened connection. It does not migrate.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates the users and kirim tables.
func (s *Store) Migrate(ctx context.Context) error {
	return ledger.Storage("migrate", s.db.WithContext(ctx).AutoMigrate(&userRow{}, &kirimRow{}))
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ledger.Storage("ping", err)
	}
	return ledger.Storage("ping", sqlDB.PingContext(ctx))
}

func (s *Store) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, username string) (*ledger.Account, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.Storage("get account", err)
	}
	return &ledger.Account{Username: row.Username, PasswordHash: []byte(row.Password), IsAdmin: row.IsAdmin}, nil
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Count(&n).Error; err != nil {
		return 0, ledger.Storage("count accounts", err)
	}
	return int(n), nil
}

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	row := userRow{Username: a.Username, Password: string(a.PasswordHash), IsAdmin: a.IsAdmin}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ledger.ErrDuplicateUsername
	}
	return ledger.Storage("insert account", err)
}

func (s *Store) UpdatePassword(ctx context.Context, username string, hash []byte) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).
		Where("username = ?", username).
		Update("password", string(hash))
	return affected(res, "update password")
}

func (s *Store) SetAdmin(ctx context.Context, username string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).
		Where("username = ?", username).
		Update("is_admin", true)
	return affected(res, "set admin")
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	q := s.db.WithContext(ctx).Order("username")
	if filter.AdminOnly != nil {
		q = q.Where("is_admin = ?", *filter.AdminOnly)
	}
	var rows []userRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, ledger.Storage("list accounts", err)
	}
	out := make([]ledger.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledger.Account{Username: r.Username, PasswordHash: []byte(r.Password), IsAdmin: r.IsAdmin})
	}
	return out, nil
}

// =============================================================================
// RECORD STORE (append-only)
// =============================================================================

func (s *Store) AppendRecord(ctx context.Context, rec ledger.DeliveryRecord) (ledger.DeliveryRecord, error) {
	date := rec.Date.String()
	row := kirimRow{
		Tanggal:       &date,
		Warung:        rec.OutletName,
		JumlahKirim:   rec.QuantityDelivered,
		JumlahTerjual: rec.QuantitySold,
		HargaSatuan:   rec.UnitPrice,
	}
	if rec.HasOwner() {
		owner := rec.OwnerUsername
		row.User = &owner
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.DeliveryRecord{}, ledger.Storage("append record", err)
	}
	rec.ID = ledger.RecordID(row.ID)
	return rec, nil
}

func (s *Store) QueryRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	q := s.db.WithContext(ctx).Model(&kirimRow{})
	if filter.Owner != nil {
		// "user" is reserved in Postgres; clause.Eq quotes the column.
		q = q.Where(clause.Eq{Column: clause.Column{Name: "user"}, Value: *filter.Owner})
	}
	if filter.Date != nil {
		q = q.Where("tanggal = ?", filter.Date.String())
	}
	if filter.Month != 0 {
		q = q.Where("substr(tanggal, 6, 2) = ?", ledger.PadMonth(filter.Month))
	}
	if filter.Year != 0 {
		q = q.Where("substr(tanggal, 1, 4) = ?", ledger.PadYear(filter.Year))
	}
	if filter.OutletContains != "" {
		if s.isPostgres() {
			q = q.Where("strpos(warung, ?) > 0", filter.OutletContains)
		} else {
			q = q.Where("instr(warung, ?) > 0", filter.OutletContains)
		}
	}

	var rows []kirimRow
	if err := q.Order("tanggal").Order("id").Find(&rows).Error; err != nil {
		return nil, ledger.Storage("query records", err)
	}
	out := make([]ledger.DeliveryRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			tanggal := ""
			if r.Tanggal != nil {
				tanggal = *r.Tanggal
			}
			s.log.Warn("skipping unreadable delivery record",
				zap.Int64("id", r.ID), zap.String("tanggal", tanggal), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a gorm transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	var inner error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.isPostgres() {
			if err := tx.Exec("LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE").Error; err != nil {
				return ledger.Storage("lock users", err)
			}
		}
		inner = fn(&Store{db: tx, log: s.log})
		return inner
	})
	if err != nil && inner == nil {
		return ledger.Storage("transaction", err)
	}
	return err
}

func affected(res *gorm.DB, op string) error {
	if res.Error != nil {
		return ledger.Storage(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}
