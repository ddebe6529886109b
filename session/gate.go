/*
Package session implements the access-control gate.

PURPOSE:
  Turns a username/password pair into a signed bearer token, turns a
  bearer token back into a ledger.Session, and revokes tokens on logout.

STATES:
  Anonymous ──Login──▶ Authenticated{username, is_admin}
  Authenticated ──Logout──▶ Anonymous

  A request without a valid, registered token is Anonymous. There is no
  process-wide "current user"; every core operation receives the Session.

TRUST:
  The is_admin claim is a snapshot taken at login. RequireAdmin re-reads
  the account, so a token cannot carry more rights than the store grants.
*/
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// Gate is the Access-Control Gate.
type Gate struct {
	accounts *ledger.Accounts
	issuer   *Issuer
	registry Registry
}

// NewGate wires the gate. A nil registry keeps sessions in memory.
func NewGate(accounts *ledger.Accounts, issuer *Issuer, registry Registry) *Gate {
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	return &Gate{accounts: accounts, issuer: issuer, registry: registry}
}

// Login authenticates and issues a registered token.
func (g *Gate) Login(ctx context.Context, username, password string) (ledger.Session, Token, error) {
	view, err := g.accounts.Authenticate(ctx, username, password)
	if err != nil {
		return ledger.Anonymous, Token{}, err
	}

	s := ledger.Session{Username: view.Username, IsAdmin: view.IsAdmin}
	tok, err := g.issuer.Issue(s)
	if err != nil {
		return ledger.Anonymous, Token{}, err
	}
	if err := g.registry.Add(ctx, tok.ID, g.issuer.TTL()); err != nil {
		return ledger.Anonymous, Token{}, fmt.Errorf("register session: %w", err)
	}
	return s, tok, nil
}

// Resolve maps a bearer token (with or without the "Bearer " prefix) to
// its session. Any failure other than a registry outage is
// ErrUnauthenticated.
func (g *Gate) Resolve(ctx context.Context, bearer string) (ledger.Session, error) {
	raw := stripBearer(bearer)
	if raw == "" {
		return ledger.Anonymous, ledger.ErrUnauthenticated
	}
	claims, err := g.issuer.Verify(raw)
	if err != nil {
		return ledger.Anonymous, fmt.Errorf("%w: %w", ledger.ErrUnauthenticated, err)
	}
	live, err := g.registry.Contains(ctx, claims.ID)
	if err != nil {
		return ledger.Anonymous, fmt.Errorf("check session: %w", err)
	}
	if !live {
		return ledger.Anonymous, fmt.Errorf("%w: session revoked", ledger.ErrUnauthenticated)
	}
	return claims.Session(), nil
}

// Logout revokes the token. Unknown, expired and already revoked tokens
// are not an error.
func (g *Gate) Logout(ctx context.Context, bearer string) error {
	claims, err := g.issuer.Inspect(stripBearer(bearer))
	if err != nil {
		return nil
	}
	if err := g.registry.Remove(ctx, claims.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RequireAdmin re-validates the admin flag against the Account Store.
func (g *Gate) RequireAdmin(ctx context.Context, s ledger.Session) (ledger.Session, error) {
	return g.accounts.RequireAdmin(ctx, s)
}

func stripBearer(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}
