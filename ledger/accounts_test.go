package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/dhn/kerupuk-ledger/ledger"
	"github.com/dhn/kerupuk-ledger/ledger/store"
)

func newTestAccounts(t *testing.T) (*ledger.Accounts, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewAccounts(mem, ledger.NewPasswordHasher(bcrypt.MinCost)), mem
}

// =============================================================================
// REGISTRATION
// =============================================================================

// First user becomes admin; the second does not.
func TestRegister_FirstAccountIsAdmin(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)

	// GIVEN: an empty store
	// WHEN: alice then bob register
	alice, err := accounts.Register(ctx, "alice", "pw1")
	require.NoError(t, err)
	bob, err := accounts.Register(ctx, "bob", "pw2")
	require.NoError(t, err)

	// THEN: only alice is admin
	assert.True(t, alice.IsAdmin)
	assert.False(t, bob.IsAdmin)

	regular := false
	employees, err := accounts.List(ctx, ledger.AccountFilter{AdminOnly: &regular})
	require.NoError(t, err)
	assert.Equal(t, []ledger.AccountView{{Username: "bob"}}, employees)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	accounts, mem := newTestAccounts(t)

	_, err := accounts.Register(ctx, "alice", "pw1")
	require.NoError(t, err)

	_, err = accounts.Register(ctx, "alice", "other")
	assert.ErrorIs(t, err, ledger.ErrDuplicateUsername)

	n, err := mem.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Matching is exact.
	_, err = accounts.Register(ctx, "Alice", "pw")
	assert.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)

	tests := []struct {
		name     string
		username string
		password string
		field    string
	}{
		{"blank username", "   ", "pw", "username"},
		{"padded username", " ana", "pw", "username"},
		{"empty password", "ana", "", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := accounts.Register(ctx, tt.username, tt.password)
			require.ErrorIs(t, err, ledger.ErrInvalidInput)
			assert.Equal(t, tt.field, ledger.Field(err))
		})
	}
}

func TestRegister_ConcurrentBootstrapYieldsOneAdmin(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)

	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := accounts.Register(ctx, name, "pw")
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	admin := true
	admins, err := accounts.List(ctx, ledger.AccountFilter{AdminOnly: &admin})
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(ctx, "alice", "pw1")
	require.NoError(t, err)

	view, err := accounts.Authenticate(ctx, "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountView{Username: "alice", IsAdmin: true}, view)

	_, err = accounts.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ledger.ErrInvalidCredentials)

	_, err = accounts.Authenticate(ctx, "nobody", "pw1")
	assert.ErrorIs(t, err, ledger.ErrInvalidCredentials)
}

func TestAuthenticate_UpgradesLegacyPlaintext(t *testing.T) {
	ctx := context.Background()
	accounts, mem := newTestAccounts(t)

	// GIVEN: a row imported from the plaintext revision
	require.NoError(t, mem.InsertAccount(ctx, ledger.Account{
		Username: "lama", PasswordHash: []byte("rahasia"),
	}))

	// WHEN: the user logs in with the right password
	_, err := accounts.Authenticate(ctx, "lama", "rahasia")
	require.NoError(t, err)

	// THEN: the stored value is now a bcrypt hash of it
	acc, err := mem.GetAccount(ctx, "lama")
	require.NoError(t, err)
	_, costErr := bcrypt.Cost(acc.PasswordHash)
	require.NoError(t, costErr)
	assert.NoError(t, bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte("rahasia")))

	// AND: logging in again verifies against the hash
	_, err = accounts.Authenticate(ctx, "lama", "rahasia")
	assert.NoError(t, err)
}

func TestAuthenticate_LegacyWrongPasswordNotUpgraded(t *testing.T) {
	ctx := context.Background()
	accounts, mem := newTestAccounts(t)
	require.NoError(t, mem.InsertAccount(ctx, ledger.Account{Username: "lama", PasswordHash: []byte("rahasia")}))

	_, err := accounts.Authenticate(ctx, "lama", "salah")
	assert.ErrorIs(t, err, ledger.ErrInvalidCredentials)

	acc, err := mem.GetAccount(ctx, "lama")
	require.NoError(t, err)
	assert.Equal(t, []byte("rahasia"), acc.PasswordHash)
}

// readOnlyPasswords fails every password write.
type readOnlyPasswords struct {
	*store.Memory
}

func (readOnlyPasswords) UpdatePassword(context.Context, string, []byte) error {
	return ledger.Storage("update password", errors.New("database is locked"))
}

func TestAuthenticate_FailedUpgradeIsLogged(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	core, logs := observer.New(zap.WarnLevel)
	accounts := ledger.NewAccounts(readOnlyPasswords{mem}, ledger.NewPasswordHasher(bcrypt.MinCost))
	accounts.SetLogger(zap.New(core))

	// GIVEN: a plaintext row and a store that rejects the rewrite
	require.NoError(t, mem.InsertAccount(ctx, ledger.Account{Username: "lama", PasswordHash: []byte("rahasia")}))

	// WHEN: the user logs in
	view, err := accounts.Authenticate(ctx, "lama", "rahasia")

	// THEN: the login succeeds, the row is unchanged and the failure is logged
	require.NoError(t, err)
	assert.Equal(t, "lama", view.Username)

	acc, err := mem.GetAccount(ctx, "lama")
	require.NoError(t, err)
	assert.Equal(t, []byte("rahasia"), acc.PasswordHash)

	entries := logs.FilterMessage("password hash upgrade failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lama", entries[0].ContextMap()["username"])
	assert.Contains(t, entries[0].ContextMap()["error"], "database is locked")
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(ctx, "alice", "pw1")
	require.NoError(t, err)

	err = accounts.ChangePassword(ctx, "alice", "wrong", "pw2")
	assert.ErrorIs(t, err, ledger.ErrInvalidCredentials)

	err = accounts.ChangePassword(ctx, "alice", "pw1", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	assert.Equal(t, "new_password", ledger.Field(err))

	require.NoError(t, accounts.ChangePassword(ctx, "alice", "pw1", "pw2"))

	_, err = accounts.Authenticate(ctx, "alice", "pw1")
	assert.ErrorIs(t, err, ledger.ErrInvalidCredentials)
	_, err = accounts.Authenticate(ctx, "alice", "pw2")
	assert.NoError(t, err)
}

// =============================================================================
// PROMOTION
// =============================================================================

func TestPromote(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = accounts.Register(ctx, "bob", "pw")
	require.NoError(t, err)
	_, err = accounts.Register(ctx, "cici", "pw")
	require.NoError(t, err)

	alice := ledger.Session{Username: "alice", IsAdmin: true}
	bob := ledger.Session{Username: "bob"}

	t.Run("non-admin cannot promote", func(t *testing.T) {
		err := accounts.Promote(ctx, bob, "cici")
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	})

	t.Run("forged admin flag is re-checked", func(t *testing.T) {
		forged := ledger.Session{Username: "bob", IsAdmin: true}
		err := accounts.Promote(ctx, forged, "cici")
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	})

	t.Run("anonymous cannot promote", func(t *testing.T) {
		err := accounts.Promote(ctx, ledger.Anonymous, "cici")
		assert.ErrorIs(t, err, ledger.ErrUnauthenticated)
	})

	t.Run("unknown target", func(t *testing.T) {
		err := accounts.Promote(ctx, alice, "nobody")
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})

	t.Run("admin promotes, idempotently", func(t *testing.T) {
		require.NoError(t, accounts.Promote(ctx, alice, "bob"))
		require.NoError(t, accounts.Promote(ctx, alice, "bob"))

		fresh, err := accounts.RequireAdmin(ctx, bob)
		require.NoError(t, err)
		assert.True(t, fresh.IsAdmin)
	})

	employees, err := accounts.Employees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cici"}, employees)
}

func TestHasAdmin(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newTestAccounts(t)

	has, err := accounts.HasAdmin(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = accounts.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	has, err = accounts.HasAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRequireAdmin_UnknownAccount(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	_, err := accounts.RequireAdmin(context.Background(), ledger.Session{Username: "ghost", IsAdmin: true})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}
