package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
)

// =============================================================================
// CSV EXPORT
// =============================================================================

// textCell neutralizes user text that a spreadsheet would read as a
// formula by prefixing a single quote.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

var reportHeader = []string{
	"id", "date", "outlet", "quantity_delivered", "quantity_sold",
	"unit_price", "revenue", "owner", "oversold",
}

// WriteReportCSV writes one line per row followed by a TOTAL line.
func WriteReportCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write([]string{
			strconv.FormatInt(int64(row.ID), 10),
			row.Date.String(),
			textCell(row.OutletName),
			strconv.FormatInt(row.QuantityDelivered, 10),
			strconv.FormatInt(row.QuantitySold, 10),
			strconv.FormatInt(row.UnitPrice, 10),
			row.Revenue.String(),
			textCell(row.OwnerUsername),
			strconv.FormatBool(row.Oversold),
		}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"TOTAL", "", "", "", "", "", r.GrandTotal.String(), "", ""}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WritePayrollCSV writes one line per owner followed by a TOTAL line.
func WritePayrollCSV(w io.Writer, p Payroll) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"owner", "units_sold", "rate", "pay"}); err != nil {
		return err
	}
	rate := p.Rate.String()
	for _, row := range p.Rows {
		if err := cw.Write([]string{
			textCell(row.Owner),
			strconv.FormatInt(row.UnitsSold, 10),
			rate,
			row.Pay.String(),
		}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"TOTAL", "", "", p.GrandTotal.String()}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WritePayrollDailyCSV writes the per (date, owner) breakdown.
func WritePayrollDailyCSV(w io.Writer, p Payroll) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "owner", "units_sold", "pay"}); err != nil {
		return err
	}
	for _, day := range p.Daily {
		if err := cw.Write([]string{
			day.Date.String(),
			textCell(day.Owner),
			strconv.FormatInt(day.UnitsSold, 10),
			day.Pay.String(),
		}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"TOTAL", "", "", p.GrandTotal.String()}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
