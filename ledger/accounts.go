/*
accounts.go - Account Store service

PURPOSE:
  Owns identity and the admin flag of every user. The session gate
  authenticates through it; promotion and payroll re-check admin rights
  through it.

INVARIANTS:
  1. Usernames are unique (exact, case-sensitive match).
  2. The first account ever created is an admin; every later one is not,
     until promoted. Promotion is never revoked.
  3. Passwords are stored as bcrypt hashes and never leave this service.

ATOMICITY:
  Register runs the duplicate check, the account count and the insert in a
  single store transaction, so two concurrent registrations can neither
  share a username nor both become the bootstrap admin.

REHASHING:
  A login whose stored hash is legacy plaintext or below the configured
  cost rewrites it. The login still succeeds when the rewrite fails; the
  failure is logged as a warning and the rewrite runs again next login.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const maxUsernameLen = 64

// Accounts is the Account Store service.
type Accounts struct {
	store  Store
	hasher *PasswordHasher
	log    *zap.Logger
}

// NewAccounts creates the service. A nil hasher uses bcrypt's default cost.
func NewAccounts(store Store, hasher *PasswordHasher) *Accounts {
	if hasher == nil {
		hasher = NewPasswordHasher(0)
	}
	return &Accounts{store: store, hasher: hasher, log: zap.NewNop()}
}

// SetLogger sets the logger for failed password upgrades.
func (a *Accounts) SetLogger(log *zap.Logger) {
	if log != nil {
		a.log = log
	}
}

// =============================================================================
// REGISTRATION & AUTHENTICATION
// =============================================================================

// Register creates an account. The first account ever created becomes admin.
func (a *Accounts) Register(ctx context.Context, username, password string) (AccountView, error) {
	if err := validateUsername(username); err != nil {
		return AccountView{}, err
	}
	if err := validatePassword("password", password); err != nil {
		return AccountView{}, err
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return AccountView{}, fmt.Errorf("hash password: %w", err)
	}

	var created Account
	err = a.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetAccount(ctx, username)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateUsername
		}
		n, err := tx.CountAccounts(ctx)
		if err != nil {
			return err
		}
		created = Account{Username: username, PasswordHash: hash, IsAdmin: n == 0}
		return tx.InsertAccount(ctx, created)
	})
	if err != nil {
		return AccountView{}, fmt.Errorf("register %q: %w", username, err)
	}
	return created.View(), nil
}

// Authenticate checks a username/password pair.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (AccountView, error) {
	acc, err := a.verify(ctx, username, password)
	if err != nil {
		return AccountView{}, err
	}
	return acc.View(), nil
}

// ChangePassword replaces the password after re-checking the current one.
func (a *Accounts) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}
	if _, err := a.verify(ctx, username, oldPassword); err != nil {
		return err
	}
	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.UpdatePassword(ctx, username, hash); err != nil {
		return fmt.Errorf("change password for %q: %w", username, err)
	}
	return nil
}

func (a *Accounts) verify(ctx context.Context, username, password string) (*Account, error) {
	acc, err := a.store.GetAccount(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", username, err)
	}
	if acc == nil {
		a.hasher.Waste(password)
		return nil, ErrInvalidCredentials
	}

	ok, rehash := a.hasher.Verify(acc.PasswordHash, password)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if rehash {
		if err := a.upgradeHash(ctx, acc, password); err != nil {
			a.log.Warn("password hash upgrade failed",
				zap.String("username", username), zap.Error(err))
		}
	}
	return acc, nil
}

func (a *Accounts) upgradeHash(ctx context.Context, acc *Account, password string) error {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.UpdatePassword(ctx, acc.Username, hash); err != nil {
		return err
	}
	acc.PasswordHash = hash
	return nil
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

// Refresh re-reads the caller's admin flag from the store. The flag carried
// by a session was cached at login; privileged operations go through here.
func (a *Accounts) Refresh(ctx context.Context, s Session) (Session, error) {
	if !s.Authenticated() {
		return Anonymous, ErrUnauthenticated
	}
	acc, err := a.store.GetAccount(ctx, s.Username)
	if err != nil {
		return Anonymous, fmt.Errorf("load account %q: %w", s.Username, err)
	}
	if acc == nil {
		return Anonymous, ErrUnauthenticated
	}
	return Session{Username: acc.Username, IsAdmin: acc.IsAdmin}, nil
}

// RequireAdmin returns the refreshed session, or ErrUnauthorized. An
// anonymous caller gets ErrUnauthenticated; a session whose account no
// longer exists gets ErrUnauthorized.
func (a *Accounts) RequireAdmin(ctx context.Context, s Session) (Session, error) {
	fresh, err := a.Refresh(ctx, s)
	if err != nil {
		if s.Authenticated() && errors.Is(err, ErrUnauthenticated) {
			return Anonymous, ErrUnauthorized
		}
		return Anonymous, err
	}
	if !fresh.IsAdmin {
		return fresh, ErrUnauthorized
	}
	return fresh, nil
}

// Promote grants admin rights to target. Idempotent. Admin callers only.
func (a *Accounts) Promote(ctx context.Context, caller Session, target string) error {
	if _, err := a.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	if err := a.store.SetAdmin(ctx, target); err != nil {
		return fmt.Errorf("promote %q: %w", target, err)
	}
	return nil
}

// =============================================================================
// LISTINGS
// =============================================================================

// List returns accounts without their passwords, ordered by username.
func (a *Accounts) List(ctx context.Context, filter AccountFilter) ([]AccountView, error) {
	accounts, err := a.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, acc.View())
	}
	return views, nil
}

// Employees returns the usernames of all non-admin accounts.
func (a *Accounts) Employees(ctx context.Context) ([]string, error) {
	regular := false
	views, err := a.List(ctx, AccountFilter{AdminOnly: &regular})
	if err != nil {
		return nil, err
	}
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = v.Username
	}
	return names, nil
}

// HasAdmin reports whether any admin exists yet. On a fresh install the next
// registrant becomes admin.
func (a *Accounts) HasAdmin(ctx context.Context) (bool, error) {
	admin := true
	admins, err := a.store.ListAccounts(ctx, AccountFilter{AdminOnly: &admin})
	if err != nil {
		return false, fmt.Errorf("list admins: %w", err)
	}
	return len(admins) > 0, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateUsername(username string) error {
	switch {
	case strings.TrimSpace(username) == "":
		return &ValidationError{Field: "username", Value: username, Err: ErrInvalidInput}
	case strings.TrimSpace(username) != username:
		return &ValidationError{Field: "username", Value: username, Err: ErrInvalidInput}
	case len(username) > maxUsernameLen:
		return &ValidationError{Field: "username", Value: username, Err: ErrInvalidInput}
	}
	return nil
}

func validatePassword(field, password string) error {
	if password == "" || len(password) > maxPasswordBytes {
		return &ValidationError{Field: field, Err: ErrInvalidInput}
	}
	return nil
}
