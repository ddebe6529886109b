/*
Package ledger provides the core of the kerupuk delivery ledger.

PURPOSE:
  Holds the two persistent entities (accounts and delivery records), the
  services that mutate them, and the storage interfaces the SQL backends
  implement. Reporting lives in package report; HTTP lives in package api.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:        A person allowed to use the system (users table)
  - DeliveryRecord: One append-only delivery/sale entry (kirim table)
  - Session:        The caller identity passed explicitly to every operation
  - RecordFilter:   Structured, conjunctive predicate over delivery records

DESIGN PRINCIPLES:
  1. Append-only: delivery records are never updated or deleted
  2. Derived values: revenue is computed from stored fields, never stored
  3. Explicit identity: no global "current user", callers pass a Session
  4. Precision: revenue uses decimal.Decimal so int64 products never overflow

SEE ALSO:
  - accounts.go: Account Store service (register, authenticate, promote)
  - ledger.go:   Ledger Store service (record delivery, query records)
  - store.go:    Persistence interfaces
*/
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is one row of the users table.
// PasswordHash is a bcrypt hash, or a plaintext value on rows imported from
// the original application (upgraded on first successful login).
type Account struct {
	Username     string
	PasswordHash []byte
	IsAdmin      bool
}

// View returns the account without its password.
func (a Account) View() AccountView {
	return AccountView{Username: a.Username, IsAdmin: a.IsAdmin}
}

// AccountView is the password-free projection returned by listings.
type AccountView struct {
	Username string
	IsAdmin  bool
}

// AccountFilter narrows ListAccounts.
// AdminOnly: nil = everyone, true = admins only, false = regular employees only.
type AccountFilter struct {
	AdminOnly *bool
}

// Matches reports whether the account passes the filter.
func (f AccountFilter) Matches(a Account) bool {
	return f.AdminOnly == nil || *f.AdminOnly == a.IsAdmin
}

// =============================================================================
// SESSION - explicit caller identity
// =============================================================================

// Session is the caller identity handed out by the access-control gate.
// The zero value is the anonymous session.
type Session struct {
	Username string
	IsAdmin  bool
}

// Anonymous is the unauthenticated session.
var Anonymous = Session{}

// Authenticated reports whether the session belongs to a logged-in account.
func (s Session) Authenticated() bool { return s.Username != "" }

// =============================================================================
// DELIVERY RECORD
// =============================================================================

// RecordID is the system-assigned, monotonic record identifier.
type RecordID int64

// DeliveryRecord is one consignment of product to one outlet on one date.
type DeliveryRecord struct {
	ID                RecordID
	Date              Date
	OutletName        string
	QuantityDelivered int64
	QuantitySold      int64
	UnitPrice         int64  // whole Rupiah
	OwnerUsername     string // empty on rows written before the owner column existed
}

// Revenue is quantity_sold * unit_price. Always derived, never stored.
func (r DeliveryRecord) Revenue() decimal.Decimal {
	return decimal.NewFromInt(r.QuantitySold).Mul(decimal.NewFromInt(r.UnitPrice))
}

// Oversold reports a row that violates sold <= delivered. Only rows written
// before the submission check existed can be in this state.
func (r DeliveryRecord) Oversold() bool {
	return r.QuantitySold > r.QuantityDelivered
}

// HasOwner reports whether the row was stamped with a submitting account.
func (r DeliveryRecord) HasOwner() bool { return r.OwnerUsername != "" }

// NewDelivery is the input of RecordDelivery. The owner comes from the session.
type NewDelivery struct {
	Date              Date
	OutletName        string
	QuantityDelivered int64
	QuantitySold      int64
	UnitPrice         int64
}

// =============================================================================
// RECORD FILTER
// =============================================================================

// RecordFilter is a conjunctive predicate over delivery records.
// Every field is optional: nil pointers and zero ints match everything.
type RecordFilter struct {
	Owner          *string
	Date           *Date
	Month          int // 1-12, 0 = any
	Year           int // 0 = any
	OutletContains string
}

// WithOwner returns a copy of the filter narrowed to one owner.
func (f RecordFilter) WithOwner(username string) RecordFilter {
	f.Owner = &username
	return f
}

// Validate checks the month/year range.
func (f RecordFilter) Validate() error {
	if f.Month < 0 || f.Month > 12 {
		return &ValidationError{Field: "month", Value: f.Month, Err: ErrInvalidMonthOrYear}
	}
	if f.Year < 0 || f.Year > 9999 {
		return &ValidationError{Field: "year", Value: f.Year, Err: ErrInvalidMonthOrYear}
	}
	return nil
}

// Matches evaluates the filter in memory. The SQL stores translate the same
// predicate into parameterized WHERE clauses; the memory store uses this.
func (f RecordFilter) Matches(r DeliveryRecord) bool {
	if f.Owner != nil && r.OwnerUsername != *f.Owner {
		return false
	}
	if f.Date != nil && !r.Date.Equal(*f.Date) {
		return false
	}
	if f.Month != 0 && r.Date.MonthString() != PadMonth(f.Month) {
		return false
	}
	if f.Year != 0 && r.Date.YearString() != PadYear(f.Year) {
		return false
	}
	if f.OutletContains != "" && !strings.Contains(r.OutletName, f.OutletContains) {
		return false
	}
	return true
}
