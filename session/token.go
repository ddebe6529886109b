package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dhn/kerupuk-ledger/ledger"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
)

// Claims is the JWT payload. ID (jti) is the key in the session registry.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Session returns the identity carried by the token.
func (c *Claims) Session() ledger.Session {
	return ledger.Session{Username: c.Username, IsAdmin: c.IsAdmin}
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time // zero when the token never expires
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A zero ttl issues tokens without exp.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a new token for s with a fresh random ID.
func (i *Issuer) Issue(s ledger.Session) (Token, error) {
	now := i.now()
	tok := Token{ID: uuid.New().String()}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   i.issuer,
			Subject:  s.Username,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       tok.ID,
		},
		Username: s.Username,
		IsAdmin:  s.IsAdmin,
	}
	if i.ttl > 0 {
		tok.ExpiresAt = now.Add(i.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(tok.ExpiresAt)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	tok.Value = signed
	return tok, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	return i.parse(tokenStr, true)
}

// Inspect checks only the signature. Logout uses it so that expired tokens
// can still be revoked.
func (i *Issuer) Inspect(tokenStr string) (*Claims, error) {
	return i.parse(tokenStr, false)
}

func (i *Issuer) parse(tokenStr string, validate bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if validate {
		opts = append(opts, jwt.WithIssuer(i.issuer))
		if i.ttl > 0 {
			opts = append(opts, jwt.WithExpirationRequired())
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.ID == "" || claims.Username == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}
