/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Revenue, pay and totals are decimal.Decimal and serialize as JSON
  strings ("200000").

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, lengths, non-negative). Business rules (oversold, blank
  outlet, first-admin) stay in the ledger package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dhn/kerupuk-ledger/ledger"
	"github.com/dhn/kerupuk-ledger/report"
)

// =============================================================================
// AUTH
// =============================================================================

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// ChangePasswordRequest is the body of POST /api/auth/password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required,max=72"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

// AccountDTO represents an account in API responses. Never carries a password.
type AccountDTO struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Account   AccountDTO `json:"account"`
}

// StatusDTO tells a fresh client whether the next registrant becomes admin.
type StatusDTO struct {
	HasAdmin bool `json:"has_admin"`
}

func toAccountDTO(v ledger.AccountView) AccountDTO {
	return AccountDTO{Username: v.Username, IsAdmin: v.IsAdmin}
}

// =============================================================================
// DELIVERIES
// =============================================================================

// DeliveryRequest is the body of POST /api/deliveries.
type DeliveryRequest struct {
	Date              string `json:"date" validate:"required"`
	Outlet            string `json:"outlet" validate:"max=200"`
	QuantityDelivered int64  `json:"quantity_delivered" validate:"gte=0"`
	QuantitySold      int64  `json:"quantity_sold" validate:"gte=0"`
	UnitPrice         int64  `json:"unit_price" validate:"gte=0"`
}

// RecordDTO is one delivery record with its derived revenue.
type RecordDTO struct {
	ID                int64           `json:"id"`
	Date              ledger.Date     `json:"date"`
	Outlet            string          `json:"outlet"`
	QuantityDelivered int64           `json:"quantity_delivered"`
	QuantitySold      int64           `json:"quantity_sold"`
	UnitPrice         int64           `json:"unit_price"`
	Revenue           decimal.Decimal `json:"revenue"`
	Owner             string          `json:"owner,omitempty"`
	Oversold          bool            `json:"oversold,omitempty"`
}

func toRecordDTO(r ledger.DeliveryRecord) RecordDTO {
	return RecordDTO{
		ID:                int64(r.ID),
		Date:              r.Date,
		Outlet:            r.OutletName,
		QuantityDelivered: r.QuantityDelivered,
		QuantitySold:      r.QuantitySold,
		UnitPrice:         r.UnitPrice,
		Revenue:           r.Revenue(),
		Owner:             r.OwnerUsername,
		Oversold:          r.Oversold(),
	}
}

func toRecordDTOs(records []ledger.DeliveryRecord) []RecordDTO {
	dtos := make([]RecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportDTO is the recap or monthly report.
type ReportDTO struct {
	Rows       []RecordDTO     `json:"rows"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

func toReportDTO(r report.Report) ReportDTO {
	dto := ReportDTO{Rows: make([]RecordDTO, len(r.Rows)), GrandTotal: r.GrandTotal}
	for i, row := range r.Rows {
		dto.Rows[i] = toRecordDTO(row.DeliveryRecord)
	}
	return dto
}

// OutletTotalDTO is one bar of the dashboard chart.
type OutletTotalDTO struct {
	Outlet  string          `json:"outlet"`
	Revenue decimal.Decimal `json:"revenue"`
}

// DashboardDTO is the daily dashboard.
type DashboardDTO struct {
	Date ledger.Date `json:"date"`
	ReportDTO
	ByOutlet []OutletTotalDTO `json:"by_outlet"`
}

func toDashboardDTO(d report.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		Date:      d.Date,
		ReportDTO: toReportDTO(d.Report),
		ByOutlet:  make([]OutletTotalDTO, len(d.ByOutlet)),
	}
	for i, o := range d.ByOutlet {
		dto.ByOutlet[i] = OutletTotalDTO{Outlet: o.Outlet, Revenue: o.Revenue}
	}
	return dto
}

// PayrollRowDTO is the pay of one owner.
type PayrollRowDTO struct {
	Owner     string          `json:"owner"`
	UnitsSold int64           `json:"units_sold"`
	Pay       decimal.Decimal `json:"pay"`
}

// PayrollDayDTO is the pay of one owner on one date.
type PayrollDayDTO struct {
	Date      ledger.Date     `json:"date"`
	Owner     string          `json:"owner"`
	UnitsSold int64           `json:"units_sold"`
	Pay       decimal.Decimal `json:"pay"`
}

// PayrollDTO is the wage report.
type PayrollDTO struct {
	Rate       decimal.Decimal `json:"rate"`
	Month      int             `json:"month,omitempty"`
	Year       int             `json:"year,omitempty"`
	Rows       []PayrollRowDTO `json:"rows"`
	Daily      []PayrollDayDTO `json:"daily"`
	Employees  []string        `json:"employees"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

func toPayrollDTO(p report.Payroll) PayrollDTO {
	dto := PayrollDTO{
		Rate:       p.Rate,
		Month:      p.Month,
		Year:       p.Year,
		Rows:       make([]PayrollRowDTO, len(p.Rows)),
		Daily:      make([]PayrollDayDTO, len(p.Daily)),
		Employees:  p.Employees,
		GrandTotal: p.GrandTotal,
	}
	if dto.Employees == nil {
		dto.Employees = []string{}
	}
	for i, r := range p.Rows {
		dto.Rows[i] = PayrollRowDTO{Owner: r.Owner, UnitsSold: r.UnitsSold, Pay: r.Pay}
	}
	for i, d := range p.Daily {
		dto.Daily[i] = PayrollDayDTO{Date: d.Date, Owner: d.Owner, UnitsSold: d.UnitsSold, Pay: d.Pay}
	}
	return dto
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// HealthDTO is returned by /healthz.
type HealthDTO struct {
	Status string `json:"status"`
}
