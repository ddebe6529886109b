/*
build.go - Pure report builders

PURPOSE:
  Everything here is a function of its inputs: no store, no clock, no
  session lookups. The Engine fetches and scopes rows, these functions
  turn rows into report values.

INVARIANTS:
  - Revenue of a row is quantity_sold * unit_price.
  - GrandTotal is the sum of the row values it accompanies.
  - Rows keep the order they were given in (the store's date, id order).
  - Legacy rows that violate sold <= delivered are kept and flagged.
*/
package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// =============================================================================
// TYPES
// =============================================================================

// Row is a delivery record with its derived values.
type Row struct {
	ledger.DeliveryRecord
	Revenue  decimal.Decimal
	Oversold bool
}

// Report is a list of rows and their revenue total.
type Report struct {
	Rows       []Row
	GrandTotal decimal.Decimal
}

// OutletTotal is one bar of the dashboard chart.
type OutletTotal struct {
	Outlet  string
	Revenue decimal.Decimal
}

// Dashboard is the report for one day, with revenue per outlet.
type Dashboard struct {
	Date ledger.Date
	Report
	ByOutlet []OutletTotal
}

// PayrollRow is the pay of one owner.
type PayrollRow struct {
	Owner     string // empty for rows recorded before owners were stored
	UnitsSold int64
	Pay       decimal.Decimal
}

// PayrollDay is the pay of one owner on one date.
type PayrollDay struct {
	Date      ledger.Date
	Owner     string
	UnitsSold int64
	Pay       decimal.Decimal
}

// Payroll is the wage report.
type Payroll struct {
	Rate       decimal.Decimal
	Month      int // 0 = all months
	Year       int // 0 = all years
	Rows       []PayrollRow
	Daily      []PayrollDay
	Employees  []string
	GrandTotal decimal.Decimal
}

// =============================================================================
// VISIBILITY
// =============================================================================

// VisibleTo returns the rows s may see: all of them for an admin, only
// the caller's own rows otherwise. The input slice is not modified.
func VisibleTo(s ledger.Session, rows []ledger.DeliveryRecord) []ledger.DeliveryRecord {
	if s.IsAdmin {
		return rows
	}
	out := make([]ledger.DeliveryRecord, 0, len(rows))
	if !s.Authenticated() {
		return out
	}
	for _, r := range rows {
		if r.OwnerUsername == s.Username {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// BUILDERS
// =============================================================================

// BuildReport derives revenue per row and the grand total.
func BuildReport(rows []ledger.DeliveryRecord) Report {
	rep := Report{Rows: make([]Row, 0, len(rows)), GrandTotal: decimal.Zero}
	for _, r := range rows {
		rev := r.Revenue()
		rep.Rows = append(rep.Rows, Row{DeliveryRecord: r, Revenue: rev, Oversold: r.Oversold()})
		rep.GrandTotal = rep.GrandTotal.Add(rev)
	}
	return rep
}

// BuildDashboard builds the day's report and groups revenue by outlet,
// sorted by outlet name.
func BuildDashboard(date ledger.Date, rows []ledger.DeliveryRecord) Dashboard {
	d := Dashboard{Date: date, Report: BuildReport(rows)}

	byOutlet := make(map[string]decimal.Decimal)
	for _, r := range d.Rows {
		byOutlet[r.OutletName] = byOutlet[r.OutletName].Add(r.Revenue)
	}
	d.ByOutlet = make([]OutletTotal, 0, len(byOutlet))
	for outlet, rev := range byOutlet {
		d.ByOutlet = append(d.ByOutlet, OutletTotal{Outlet: outlet, Revenue: rev})
	}
	sort.Slice(d.ByOutlet, func(i, j int) bool { return d.ByOutlet[i].Outlet < d.ByOutlet[j].Outlet })
	return d
}

// BuildPayroll groups rows by owner (and by date and owner for the daily
// breakdown): units = sum of quantity_sold, pay = units * rate.
// Owners are sorted by name; days by date, then owner.
func BuildPayroll(rate decimal.Decimal, rows []ledger.DeliveryRecord, employees []string) Payroll {
	p := Payroll{Rate: rate, GrandTotal: decimal.Zero, Employees: employees}
	if p.Employees == nil {
		p.Employees = []string{}
	}

	type dayKey struct {
		date  string
		owner string
	}
	units := make(map[string]int64)
	daily := make(map[dayKey]*PayrollDay)
	for _, r := range rows {
		units[r.OwnerUsername] += r.QuantitySold

		k := dayKey{date: r.Date.String(), owner: r.OwnerUsername}
		day, ok := daily[k]
		if !ok {
			day = &PayrollDay{Date: r.Date, Owner: r.OwnerUsername}
			daily[k] = day
		}
		day.UnitsSold += r.QuantitySold
	}

	p.Rows = make([]PayrollRow, 0, len(units))
	for owner, n := range units {
		pay := decimal.NewFromInt(n).Mul(rate)
		p.Rows = append(p.Rows, PayrollRow{Owner: owner, UnitsSold: n, Pay: pay})
		p.GrandTotal = p.GrandTotal.Add(pay)
	}
	sort.Slice(p.Rows, func(i, j int) bool { return p.Rows[i].Owner < p.Rows[j].Owner })

	p.Daily = make([]PayrollDay, 0, len(daily))
	for _, day := range daily {
		day.Pay = decimal.NewFromInt(day.UnitsSold).Mul(rate)
		p.Daily = append(p.Daily, *day)
	}
	sort.Slice(p.Daily, func(i, j int) bool {
		if !p.Daily[i].Date.Equal(p.Daily[j].Date) {
			return p.Daily[i].Date.Before(p.Daily[j].Date)
		}
		return p.Daily[i].Owner < p.Daily[j].Owner
	})
	return p
}
