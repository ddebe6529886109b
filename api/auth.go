package api

import (
	"context"
	"net/http"

	"github.com/dhn/kerupuk-ledger/ledger"
)

type sessionKey struct{}

// withSession resolves the Authorization header into a ledger.Session and
// stores it on the request context. A missing or invalid token yields the
// anonymous session; routes that need a caller use requireSession.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		s, err := h.gate.Resolve(r.Context(), header)
		if err != nil && ledger.IsRetryable(err) {
			h.writeDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSession rejects anonymous callers with 401.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r.Context()).Authenticated() {
			h.writeDomainError(w, r, ledger.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFrom returns the caller of the request, or ledger.Anonymous.
func sessionFrom(ctx context.Context) ledger.Session {
	s, ok := ctx.Value(sessionKey{}).(ledger.Session)
	if !ok {
		return ledger.Anonymous
	}
	return s
}
