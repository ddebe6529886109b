// Package report implements the Reporting Engine: recap, daily dashboard,
// monthly report and payroll, each scoped to what the caller may see.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// DefaultRatePerUnit is the wage per unit sold when none is configured.
const DefaultRatePerUnit = 1000

// Options configures an Engine.
type Options struct {
	RatePerUnit int64          // default payroll rate; 0 = DefaultRatePerUnit
	Location    *time.Location // zone that decides "today"; nil = UTC
	Now         func() time.Time
}

// Engine is the Reporting Engine.
type Engine struct {
	ledger   *ledger.Ledger
	accounts *ledger.Accounts
	rate     int64
	loc      *time.Location
	now      func() time.Time
}

func NewEngine(l *ledger.Ledger, accounts *ledger.Accounts, opts Options) *Engine {
	e := &Engine{ledger: l, accounts: accounts, rate: opts.RatePerUnit, loc: opts.Location, now: opts.Now}
	if e.rate <= 0 {
		e.rate = DefaultRatePerUnit
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// RatePerUnit is the default payroll rate.
func (e *Engine) RatePerUnit() int64 { return e.rate }

// Today is the current date in the engine's zone.
func (e *Engine) Today() ledger.Date { return ledger.Today(e.now(), e.loc) }

// =============================================================================
// RECORDS
// =============================================================================

// Records returns the records matching filter that s may see. For a
// non-admin the owner filter is forced to the caller.
func (e *Engine) Records(ctx context.Context, s ledger.Session, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	s, err := e.accounts.Refresh(ctx, s)
	if err != nil {
		return nil, err
	}
	return e.visible(ctx, s, filter)
}

// visible narrows the query to the caller and applies VisibleTo to the
// result, so the rule holds whatever the store returns.
func (e *Engine) visible(ctx context.Context, s ledger.Session, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	if !s.IsAdmin {
		filter = filter.WithOwner(s.Username)
	}
	rows, err := e.ledger.QueryRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return VisibleTo(s, rows), nil
}

// =============================================================================
// REPORTS
// =============================================================================

// RecapFilter narrows the recap. Owner only applies to admins.
type RecapFilter struct {
	Owner  string
	Outlet string
}

// Recap lists every visible record with its revenue and the grand total.
func (e *Engine) Recap(ctx context.Context, s ledger.Session, f RecapFilter) (Report, error) {
	s, err := e.accounts.Refresh(ctx, s)
	if err != nil {
		return Report{}, err
	}
	filter := ledger.RecordFilter{OutletContains: strings.TrimSpace(f.Outlet)}
	if s.IsAdmin && f.Owner != "" {
		filter = filter.WithOwner(f.Owner)
	}
	rows, err := e.visible(ctx, s, filter)
	if err != nil {
		return Report{}, fmt.Errorf("recap: %w", err)
	}
	return BuildReport(rows), nil
}

// DailyDashboard reports today's visible records and revenue per outlet.
func (e *Engine) DailyDashboard(ctx context.Context, s ledger.Session) (Dashboard, error) {
	return e.Dashboard(ctx, s, e.Today())
}

// Dashboard reports one day's visible records and revenue per outlet.
func (e *Engine) Dashboard(ctx context.Context, s ledger.Session, day ledger.Date) (Dashboard, error) {
	s, err := e.accounts.Refresh(ctx, s)
	if err != nil {
		return Dashboard{}, err
	}
	rows, err := e.visible(ctx, s, ledger.RecordFilter{Date: &day})
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	return BuildDashboard(day, rows), nil
}

// MonthlyReport reports the visible records of one month of one year.
func (e *Engine) MonthlyReport(ctx context.Context, s ledger.Session, month, year int) (Report, error) {
	if month < 1 || month > 12 {
		return Report{}, &ledger.ValidationError{Field: "month", Value: month, Err: ledger.ErrInvalidMonthOrYear}
	}
	if year < 1 || year > 9999 {
		return Report{}, &ledger.ValidationError{Field: "year", Value: year, Err: ledger.ErrInvalidMonthOrYear}
	}
	s, err := e.accounts.Refresh(ctx, s)
	if err != nil {
		return Report{}, err
	}
	rows, err := e.visible(ctx, s, ledger.RecordFilter{Month: month, Year: year})
	if err != nil {
		return Report{}, fmt.Errorf("monthly report: %w", err)
	}
	return BuildReport(rows), nil
}

// PayrollParams selects the payroll window and rate.
type PayrollParams struct {
	Rate  int64 // per unit sold; 0 = the engine default
	Month int   // 0 = all
	Year  int   // 0 = all
}

// Payroll computes pay per owner. Admin only; the admin flag is re-read.
func (e *Engine) Payroll(ctx context.Context, s ledger.Session, p PayrollParams) (Payroll, error) {
	s, err := e.accounts.RequireAdmin(ctx, s)
	if err != nil {
		return Payroll{}, err
	}
	if p.Rate < 0 {
		return Payroll{}, &ledger.ValidationError{Field: "rate", Value: p.Rate, Err: ledger.ErrInvalidInput}
	}
	rate := p.Rate
	if rate == 0 {
		rate = e.rate
	}

	rows, err := e.visible(ctx, s, ledger.RecordFilter{Month: p.Month, Year: p.Year})
	if err != nil {
		return Payroll{}, fmt.Errorf("payroll: %w", err)
	}
	employees, err := e.accounts.Employees(ctx)
	if err != nil {
		return Payroll{}, fmt.Errorf("payroll: %w", err)
	}

	out := BuildPayroll(decimal.NewFromInt(rate), rows, employees)
	out.Month, out.Year = p.Month, p.Year
	return out, nil
}
