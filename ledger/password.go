package ledger

import (
	"bytes"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords with bcrypt.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordHasher returns a hasher using cost, clamped to bcrypt's range.
// A zero cost selects bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), h.cost)
}

// Verify checks password against a stored value. rehash is true when the
// stored value is a legacy plaintext password or a hash with a different
// cost, and should be replaced by Hash(password).
func (h *PasswordHasher) Verify(stored []byte, password string) (ok, rehash bool) {
	cost, err := bcrypt.Cost(stored)
	if err != nil {
		// Rows written by the plaintext revision of the application.
		if len(stored) == 0 {
			return false, false
		}
		return subtle.ConstantTimeCompare(stored, []byte(password)) == 1, true
	}
	if bcrypt.CompareHashAndPassword(stored, []byte(password)) != nil {
		return false, false
	}
	return true, cost != h.cost
}

// Waste runs one comparison against a fixed hash so that unknown usernames
// take as long to reject as wrong passwords.
func (h *PasswordHasher) Waste(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword(bytes.Repeat([]byte("x"), 16), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
