package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// statusFor maps a ledger error to its HTTP status.
//
//	400 validation, oversold, blank outlet, bad month/year
//	401 bad credentials, no session
//	403 not an admin
//	404 unknown account
//	409 duplicate username
//	503 storage unavailable (with Retry-After)
//	500 everything else
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidCredentials), errors.Is(err, ledger.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// messageFor is the client-facing message. Internal failures never leak
// driver text.
func messageFor(err error) string {
	for _, sentinel := range []error{
		ledger.ErrDuplicateUsername,
		ledger.ErrInvalidCredentials,
		ledger.ErrAccountNotFound,
		ledger.ErrEmptyOutlet,
		ledger.ErrOversold,
		ledger.ErrInvalidMonthOrYear,
		ledger.ErrInvalidInput,
		ledger.ErrUnauthenticated,
		ledger.ErrUnauthorized,
		ledger.ErrStorageUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

// writeDomainError writes err as an ErrorResponse with the mapped status.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: messageFor(err), Field: ledger.Field(err)}

	var oversold *ledger.OversoldError
	if errors.As(err, &oversold) {
		resp.Details = map[string]int64{
			"quantity_delivered": oversold.Delivered,
			"quantity_sold":      oversold.Sold,
		}
	}

	switch {
	case status >= 500:
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		if ledger.IsRetryable(err) {
			w.Header().Set("Retry-After", "1")
		}
	case status == http.StatusBadRequest:
		resp.Details = detailsOr(resp.Details, err)
	}
	writeJSON(w, status, resp)
}

func detailsOr(details any, err error) any {
	if details != nil {
		return details
	}
	return err.Error()
}

// writeBindError reports a body that failed to decode or validate.
func writeBindError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: ledger.ErrInvalidInput.Error(), Details: err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		resp.Field = verrs[0].Field()
		resp.Details = verrs[0].Tag()
	}
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		resp.Details = "malformed JSON"
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
