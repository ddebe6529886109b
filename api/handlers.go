/*
handlers.go - HTTP API handlers for the delivery ledger

PURPOSE:
  Exposes accounts, deliveries and reports over REST. Handles HTTP
  request/response and JSON, and delegates every decision to the
  ledger, session and report packages.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Create account (first one is admin)
    POST   /api/auth/login             Exchange credentials for a token
    POST   /api/auth/logout            Revoke the presented token
    GET    /api/auth/me                Current account
    GET    /api/auth/status            Whether an admin exists yet
    POST   /api/auth/password          Change own password

  Accounts (admin):
    GET    /api/accounts?admin=        List accounts
    POST   /api/accounts/{username}/promote

  Deliveries:
    POST   /api/deliveries             Record a delivery
    GET    /api/deliveries             Filtered records (date, month, year, outlet, owner)

  Reports:
    GET    /api/reports/recap          All visible records + grand total
    GET    /api/reports/dashboard      Today (or ?date=) with revenue per outlet
    GET    /api/reports/monthly        One month of one year
    GET    /api/reports/payroll        Wages per owner (admin)

  Report endpoints answer ?format=csv with a CSV download.

REQUEST FLOW:
  1. withSession resolves the bearer token into the request context
  2. Decode and validate the body or query
  3. Call the domain service with the caller's Session
  4. Serialize response, or map the error via writeDomainError

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dhn/kerupuk-ledger/ledger"
	"github.com/dhn/kerupuk-ledger/report"
	"github.com/dhn/kerupuk-ledger/session"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the storage engine is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	accounts *ledger.Accounts
	ledger   *ledger.Ledger
	engine   *report.Engine
	gate     *session.Gate
	store    Pinger
	log      *zap.Logger
	validate *validator.Validate
}

// Deps are the services a Handler serves.
type Deps struct {
	Accounts *ledger.Accounts
	Ledger   *ledger.Ledger
	Engine   *report.Engine
	Gate     *session.Gate
	Store    Pinger
	Logger   *zap.Logger
}

// NewHandler creates a new handler. A nil logger discards logs.
func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		accounts: d.Accounts,
		ledger:   d.Ledger,
		engine:   d.Engine,
		gate:     d.Gate,
		store:    d.Store,
		log:      log,
		validate: v,
	}
}

// bind decodes the JSON body into dst and validates it.
func (h *Handler) bind(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates an account. The very first account becomes admin.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	view, err := h.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.log.Info("account registered", zap.String("username", view.Username), zap.Bool("admin", view.IsAdmin))
	writeJSON(w, http.StatusCreated, toAccountDTO(view))
}

// Login exchanges credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	s, tok, err := h.gate.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := LoginResponse{
		Token:   tok.Value,
		Account: AccountDTO{Username: s.Username, IsAdmin: s.IsAdmin},
	}
	if !tok.ExpiresAt.IsZero() {
		resp.ExpiresAt = &tok.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the presented token. Always 204.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Logout(r.Context(), r.Header.Get("Authorization")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's account as the store currently sees it.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	s, err := h.accounts.Refresh(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{Username: s.Username, IsAdmin: s.IsAdmin})
}

// Status tells clients whether an admin exists yet.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	has, err := h.accounts.HasAdmin(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{HasAdmin: has})
}

// ChangePassword replaces the caller's password after checking the old one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	s := sessionFrom(r.Context())
	if err := h.accounts.ChangePassword(r.Context(), s.Username, req.OldPassword, req.NewPassword); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ACCOUNT HANDLERS (admin)
// =============================================================================

// ListAccounts lists accounts. ?admin=true|false narrows by role.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.RequireAdmin(r.Context(), sessionFrom(r.Context())); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var filter ledger.AccountFilter
	if v := r.URL.Query().Get("admin"); v != "" {
		admin, err := strconv.ParseBool(v)
		if err != nil {
			h.writeDomainError(w, r, &ledger.ValidationError{Field: "admin", Value: v, Err: ledger.ErrInvalidInput})
			return
		}
		filter.AdminOnly = &admin
	}

	views, err := h.accounts.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]AccountDTO, len(views))
	for i, v := range views {
		dtos[i] = toAccountDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PromoteAccount grants admin rights to {username}.
func (h *Handler) PromoteAccount(w http.ResponseWriter, r *http.Request) {
	caller := sessionFrom(r.Context())
	target := chi.URLParam(r, "username")

	if err := h.accounts.Promote(r.Context(), caller, target); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.log.Info("account promoted", zap.String("by", caller.Username), zap.String("username", target))
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DELIVERY HANDLERS
// =============================================================================

// RecordDelivery appends a delivery owned by the caller.
func (h *Handler) RecordDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, r, &ledger.ValidationError{Field: "date", Value: req.Date, Err: ledger.ErrInvalidInput})
		return
	}

	rec, err := h.ledger.RecordDelivery(r.Context(), sessionFrom(r.Context()), ledger.NewDelivery{
		Date:              date,
		OutletName:        req.Outlet,
		QuantityDelivered: req.QuantityDelivered,
		QuantitySold:      req.QuantitySold,
		UnitPrice:         req.UnitPrice,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// ListDeliveries returns the visible records matching the query.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.RecordFilter{OutletContains: strings.TrimSpace(q.Get("outlet"))}

	if v := q.Get("date"); v != "" {
		d, err := ledger.ParseDate(v)
		if err != nil {
			h.writeDomainError(w, r, &ledger.ValidationError{Field: "date", Value: v, Err: ledger.ErrInvalidInput})
			return
		}
		filter.Date = &d
	}
	var err error
	if filter.Month, err = queryInt(r, "month", ledger.ErrInvalidMonthOrYear); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if filter.Year, err = queryInt(r, "year", ledger.ErrInvalidMonthOrYear); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if v := q.Get("owner"); v != "" {
		filter = filter.WithOwner(v)
	}

	records, err := h.engine.Records(r.Context(), sessionFrom(r.Context()), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// Recap lists every visible record with the grand total.
func (h *Handler) Recap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := h.engine.Recap(r.Context(), sessionFrom(r.Context()), report.RecapFilter{
		Owner:  q.Get("owner"),
		Outlet: q.Get("outlet"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if wantsCSV(r) {
		h.writeCSV(w, r, "recap.csv", func(w http.ResponseWriter) error { return report.WriteReportCSV(w, rep) })
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

// Dashboard reports today's records, or ?date=YYYY-MM-DD.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())

	var (
		dash report.Dashboard
		err  error
	)
	if v := r.URL.Query().Get("date"); v != "" {
		day, perr := ledger.ParseDate(v)
		if perr != nil {
			h.writeDomainError(w, r, &ledger.ValidationError{Field: "date", Value: v, Err: ledger.ErrInvalidInput})
			return
		}
		dash, err = h.engine.Dashboard(r.Context(), s, day)
	} else {
		dash, err = h.engine.DailyDashboard(r.Context(), s)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(dash))
}

// MonthlyReport reports one month. Missing month or year default to the
// current one in the report time zone.
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	today := h.engine.Today()
	month, err := queryInt(r, "month", ledger.ErrInvalidMonthOrYear)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	year, err := queryInt(r, "year", ledger.ErrInvalidMonthOrYear)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !r.URL.Query().Has("month") {
		month = int(today.Month())
	}
	if !r.URL.Query().Has("year") {
		year = today.Year()
	}

	rep, err := h.engine.MonthlyReport(r.Context(), sessionFrom(r.Context()), month, year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if wantsCSV(r) {
		name := fmt.Sprintf("monthly-%s-%s.csv", ledger.PadYear(year), ledger.PadMonth(month))
		h.writeCSV(w, r, name, func(w http.ResponseWriter) error { return report.WriteReportCSV(w, rep) })
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

// Payroll computes wages per owner. Admin only.
// ?rate= overrides the configured rate; ?view=daily with ?format=csv
// exports the per-day breakdown.
func (h *Handler) Payroll(w http.ResponseWriter, r *http.Request) {
	var (
		p   report.PayrollParams
		err error
	)
	if v := r.URL.Query().Get("rate"); v != "" {
		p.Rate, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeDomainError(w, r, &ledger.ValidationError{Field: "rate", Value: v, Err: ledger.ErrInvalidInput})
			return
		}
	}
	if p.Month, err = queryInt(r, "month", ledger.ErrInvalidMonthOrYear); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if p.Year, err = queryInt(r, "year", ledger.ErrInvalidMonthOrYear); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	pay, err := h.engine.Payroll(r.Context(), sessionFrom(r.Context()), p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if wantsCSV(r) {
		if r.URL.Query().Get("view") == "daily" {
			h.writeCSV(w, r, "payroll-daily.csv", func(w http.ResponseWriter) error { return report.WritePayrollDailyCSV(w, pay) })
			return
		}
		h.writeCSV(w, r, "payroll.csv", func(w http.ResponseWriter) error { return report.WritePayrollCSV(w, pay) })
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(pay))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// queryInt parses an optional integer query parameter; absent is 0.
func queryInt(r *http.Request, name string, kind error) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ledger.ValidationError{Field: name, Value: v, Err: kind}
	}
	return n, nil
}

func wantsCSV(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "csv")
}

func (h *Handler) writeCSV(w http.ResponseWriter, r *http.Request, filename string, write func(http.ResponseWriter) error) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := write(w); err != nil {
		h.log.Error("write csv", zap.String("path", r.URL.Path), zap.Error(err))
	}
}
