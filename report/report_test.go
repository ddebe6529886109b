package report_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dhn/kerupuk-ledger/ledger"
	"github.com/dhn/kerupuk-ledger/ledger/store"
	"github.com/dhn/kerupuk-ledger/report"
)

var (
	may1 = ledger.NewDate(2024, time.May, 1)
	may2 = ledger.NewDate(2024, time.May, 2)
	jun3 = ledger.NewDate(2024, time.June, 3)

	admin1 = ledger.Session{Username: "admin1", IsAdmin: true}
	bob    = ledger.Session{Username: "bob"}
	cici   = ledger.Session{Username: "cici"}
)

type fixture struct {
	engine *report.Engine
	ledger *ledger.Ledger
	mem    *store.Memory
}

// newFixture registers admin1 (first, so admin), bob and cici. "Now" is
// 2024-05-02 01:00 in Jakarta, which is still May 1 in UTC.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	accounts := ledger.NewAccounts(mem, ledger.NewPasswordHasher(bcrypt.MinCost))
	for _, name := range []string{"admin1", "bob", "cici"} {
		_, err := accounts.Register(ctx, name, "pw")
		require.NoError(t, err)
	}

	jakarta := time.FixedZone("WIB", 7*3600)
	now := time.Date(2024, time.May, 2, 1, 0, 0, 0, jakarta)
	l := ledger.New(mem)
	engine := report.NewEngine(l, accounts, report.Options{
		Location: jakarta,
		Now:      func() time.Time { return now },
	})
	return &fixture{engine: engine, ledger: l, mem: mem}
}

func (f *fixture) record(t *testing.T, s ledger.Session, d ledger.Date, outlet string, delivered, sold, price int64) ledger.DeliveryRecord {
	t.Helper()
	rec, err := f.ledger.RecordDelivery(context.Background(), s, ledger.NewDelivery{
		Date: d, OutletName: outlet, QuantityDelivered: delivered, QuantitySold: sold, UnitPrice: price,
	})
	require.NoError(t, err)
	return rec
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// =============================================================================
// VISIBILITY
// =============================================================================

// A non-admin's recap holds only their own rows.
func TestRecap_NonAdminSeesOwnRowsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: rows from bob and admin1
	bobRec := f.record(t, bob, may1, "Toko A", 100, 40, 5000)
	f.record(t, admin1, may1, "Toko B", 50, 50, 1000)

	// WHEN: bob asks for the recap, even naming admin1 as owner
	rep, err := f.engine.Recap(ctx, bob, report.RecapFilter{Owner: "admin1"})
	require.NoError(t, err)

	// THEN: only bob's row
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, bobRec.ID, rep.Rows[0].ID)
	assert.True(t, rep.GrandTotal.Equal(dec(200000)))
}

func TestRecap_AdminSeesAllAndFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, bob, may1, "Toko A", 100, 40, 5000)
	f.record(t, cici, may2, "Warung Sri", 10, 10, 1000)
	f.record(t, admin1, may2, "toko kecil", 1, 1, 1)

	all, err := f.engine.Recap(ctx, admin1, report.RecapFilter{})
	require.NoError(t, err)
	assert.Len(t, all.Rows, 3)
	assert.True(t, all.GrandTotal.Equal(dec(200000+10000+1)))

	byOwner, err := f.engine.Recap(ctx, admin1, report.RecapFilter{Owner: "cici"})
	require.NoError(t, err)
	require.Len(t, byOwner.Rows, 1)
	assert.Equal(t, "Warung Sri", byOwner.Rows[0].OutletName)

	byOutlet, err := f.engine.Recap(ctx, admin1, report.RecapFilter{Outlet: "Toko"})
	require.NoError(t, err)
	require.Len(t, byOutlet.Rows, 1, "outlet match is case-sensitive")
	assert.Equal(t, "Toko A", byOutlet.Rows[0].OutletName)
}

func TestRecap_StaleAdminClaimIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, admin1, may1, "Toko B", 50, 50, 1000)

	forged := ledger.Session{Username: "bob", IsAdmin: true}
	rep, err := f.engine.Recap(ctx, forged, report.RecapFilter{})
	require.NoError(t, err)
	assert.Empty(t, rep.Rows)
	assert.True(t, rep.GrandTotal.IsZero())
}

func TestRecap_AnonymousIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Recap(context.Background(), ledger.Anonymous, report.RecapFilter{})
	assert.ErrorIs(t, err, ledger.ErrUnauthenticated)
}

func TestVisibleTo(t *testing.T) {
	rows := []ledger.DeliveryRecord{
		{ID: 1, OwnerUsername: "bob"},
		{ID: 2, OwnerUsername: "cici"},
		{ID: 3},
	}
	assert.Len(t, report.VisibleTo(admin1, rows), 3)

	own := report.VisibleTo(bob, rows)
	require.Len(t, own, 1)
	assert.Equal(t, ledger.RecordID(1), own[0].ID)

	assert.Empty(t, report.VisibleTo(ledger.Anonymous, rows))
}

// =============================================================================
// MONTHLY REPORT
// =============================================================================

func TestMonthlyReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.record(t, bob, may1, "Toko A", 100, 40, 5000)
	f.record(t, bob, ledger.NewDate(2023, time.May, 1), "Toko A", 1, 1, 1)

	may, err := f.engine.MonthlyReport(ctx, bob, 5, 2024)
	require.NoError(t, err)
	require.Len(t, may.Rows, 1)
	assert.Equal(t, rec.ID, may.Rows[0].ID)
	assert.True(t, may.GrandTotal.Equal(dec(200000)))

	june, err := f.engine.MonthlyReport(ctx, bob, 6, 2024)
	require.NoError(t, err)
	assert.Empty(t, june.Rows)
	assert.True(t, june.GrandTotal.IsZero())
}

func TestMonthlyReport_InvalidMonthOrYear(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ month, year int }{{0, 2024}, {13, 2024}, {5, 0}, {5, 10000}} {
		_, err := f.engine.MonthlyReport(context.Background(), bob, tc.month, tc.year)
		assert.ErrorIs(t, err, ledger.ErrInvalidMonthOrYear, "%d/%d", tc.month, tc.year)
	}
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDailyDashboard_UsesConfiguredZone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Today in Jakarta is May 2.
	f.record(t, bob, may1, "Toko A", 10, 10, 100)
	f.record(t, bob, may2, "Toko B", 10, 5, 100)
	f.record(t, bob, may2, "Toko A", 10, 2, 100)
	f.record(t, bob, may2, "Toko B", 10, 1, 100)
	f.record(t, cici, may2, "Toko C", 10, 10, 100)

	d, err := f.engine.DailyDashboard(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, may2, d.Date)
	assert.Len(t, d.Rows, 3)
	assert.True(t, d.GrandTotal.Equal(dec(800)))
	require.Len(t, d.ByOutlet, 2)
	assert.Equal(t, "Toko A", d.ByOutlet[0].Outlet)
	assert.True(t, d.ByOutlet[0].Revenue.Equal(dec(200)))
	assert.Equal(t, "Toko B", d.ByOutlet[1].Outlet)
	assert.True(t, d.ByOutlet[1].Revenue.Equal(dec(600)))

	adminView, err := f.engine.DailyDashboard(ctx, admin1)
	require.NoError(t, err)
	assert.Len(t, adminView.ByOutlet, 3)
}

// =============================================================================
// PAYROLL
// =============================================================================

func TestPayroll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, bob, may1, "Toko A", 100, 40, 5000)
	f.record(t, bob, may2, "Toko B", 10, 10, 5000)
	f.record(t, cici, may1, "Toko C", 20, 5, 5000)
	f.record(t, cici, jun3, "Toko C", 20, 7, 5000)

	t.Run("non-admin is rejected", func(t *testing.T) {
		_, err := f.engine.Payroll(ctx, bob, report.PayrollParams{})
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	})

	t.Run("default rate, all time", func(t *testing.T) {
		p, err := f.engine.Payroll(ctx, admin1, report.PayrollParams{})
		require.NoError(t, err)
		assert.True(t, p.Rate.Equal(dec(report.DefaultRatePerUnit)))
		require.Len(t, p.Rows, 2)
		assert.Equal(t, report.PayrollRow{Owner: "bob", UnitsSold: 50, Pay: p.Rows[0].Pay}, p.Rows[0])
		assert.True(t, p.Rows[0].Pay.Equal(dec(50000)))
		assert.Equal(t, "cici", p.Rows[1].Owner)
		assert.Equal(t, int64(12), p.Rows[1].UnitsSold)
		assert.True(t, p.GrandTotal.Equal(dec(62000)))
		assert.Equal(t, []string{"bob", "cici"}, p.Employees)
		assert.Len(t, p.Daily, 4)
	})

	t.Run("custom rate and month", func(t *testing.T) {
		p, err := f.engine.Payroll(ctx, admin1, report.PayrollParams{Rate: 200, Month: 5, Year: 2024})
		require.NoError(t, err)
		require.Len(t, p.Rows, 2)
		assert.Equal(t, int64(5), p.Rows[1].UnitsSold)
		assert.True(t, p.GrandTotal.Equal(dec((50+5)*200)))
		assert.Equal(t, 5, p.Month)
	})

	t.Run("negative rate", func(t *testing.T) {
		_, err := f.engine.Payroll(ctx, admin1, report.PayrollParams{Rate: -1})
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		assert.Equal(t, "rate", ledger.Field(err))
	})
}

func TestBuildPayroll_DailyBreakdown(t *testing.T) {
	rows := []ledger.DeliveryRecord{
		{Date: may2, OwnerUsername: "bob", QuantitySold: 3},
		{Date: may1, OwnerUsername: "cici", QuantitySold: 2},
		{Date: may1, OwnerUsername: "bob", QuantitySold: 4},
		{Date: may1, OwnerUsername: "bob", QuantitySold: 1},
	}
	p := report.BuildPayroll(dec(1000), rows, nil)

	require.Len(t, p.Daily, 3)
	assert.Equal(t, report.PayrollDay{Date: may1, Owner: "bob", UnitsSold: 5, Pay: p.Daily[0].Pay}, p.Daily[0])
	assert.True(t, p.Daily[0].Pay.Equal(dec(5000)))
	assert.Equal(t, "cici", p.Daily[1].Owner)
	assert.Equal(t, may2, p.Daily[2].Date)
	assert.NotNil(t, p.Employees)
}

// =============================================================================
// PURE BUILDERS
// =============================================================================

func TestBuildReport_GrandTotalIsSumOfRevenue(t *testing.T) {
	rows := []ledger.DeliveryRecord{
		{QuantityDelivered: 10, QuantitySold: 3, UnitPrice: 700},
		{QuantityDelivered: 5, QuantitySold: 9, UnitPrice: 100}, // legacy oversold row
		{QuantityDelivered: 1 << 40, QuantitySold: 1 << 40, UnitPrice: 1 << 40},
	}
	rep := report.BuildReport(rows)

	sum := decimal.Zero
	for _, r := range rep.Rows {
		assert.True(t, r.Revenue.Equal(dec(r.QuantitySold).Mul(dec(r.UnitPrice))))
		sum = sum.Add(r.Revenue)
	}
	assert.True(t, rep.GrandTotal.Equal(sum))
	assert.False(t, rep.Rows[0].Oversold)
	assert.True(t, rep.Rows[1].Oversold, "kept and flagged")

	assert.Equal(t, rep, report.BuildReport(rows), "deterministic")
}

func TestBuildReport_Empty(t *testing.T) {
	rep := report.BuildReport(nil)
	assert.Empty(t, rep.Rows)
	assert.True(t, rep.GrandTotal.IsZero())
}

// =============================================================================
// CSV
// =============================================================================

func TestWriteReportCSV(t *testing.T) {
	rep := report.BuildReport([]ledger.DeliveryRecord{
		{ID: 7, Date: may1, OutletName: "Toko, A", QuantityDelivered: 100, QuantitySold: 40, UnitPrice: 5000, OwnerUsername: "bob"},
	})
	var buf bytes.Buffer
	require.NoError(t, report.WriteReportCSV(&buf, rep))

	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"7", "2024-05-01", "Toko, A", "100", "40", "5000", "200000", "bob", "false"}, lines[1])
	assert.Equal(t, "TOTAL", lines[2][0])
	assert.Equal(t, "200000", lines[2][6])
}

func TestWritePayrollCSV(t *testing.T) {
	p := report.BuildPayroll(dec(1000), []ledger.DeliveryRecord{
		{Date: may1, OwnerUsername: "bob", QuantitySold: 4},
		{Date: may2, OwnerUsername: "bob", QuantitySold: 1},
	}, []string{"bob"})

	var buf bytes.Buffer
	require.NoError(t, report.WritePayrollCSV(&buf, p))
	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"owner", "units_sold", "rate", "pay"},
		{"bob", "5", "1000", "5000"},
		{"TOTAL", "", "", "5000"},
	}, lines)

	buf.Reset()
	require.NoError(t, report.WritePayrollDailyCSV(&buf, p))
	lines, err = csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, lines, 4)
	assert.Equal(t, []string{"2024-05-01", "bob", "4", "4000"}, lines[1])
}

func TestCSV_FormulaCellsAreNeutralized(t *testing.T) {
	// GIVEN: an outlet and an owner that a spreadsheet would evaluate
	records := []ledger.DeliveryRecord{
		{ID: 1, Date: may1, OutletName: "=HYPERLINK(\"http://x\")", QuantityDelivered: 1, QuantitySold: 1, UnitPrice: 1, OwnerUsername: "@evil"},
		{ID: 2, Date: may1, OutletName: "-1+2", QuantityDelivered: 1, QuantitySold: 1, UnitPrice: 1, OwnerUsername: "+bob"},
		{ID: 3, Date: may1, OutletName: "Toko =A", QuantityDelivered: 1, QuantitySold: 1, UnitPrice: 1, OwnerUsername: "cici"},
	}

	// WHEN: every export is written
	var buf bytes.Buffer
	require.NoError(t, report.WriteReportCSV(&buf, report.BuildReport(records)))
	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	// THEN: leading formula characters are quoted, other text is untouched
	assert.Equal(t, "'=HYPERLINK(\"http://x\")", lines[1][2])
	assert.Equal(t, "'@evil", lines[1][7])
	assert.Equal(t, "'-1+2", lines[2][2])
	assert.Equal(t, "'+bob", lines[2][7])
	assert.Equal(t, "Toko =A", lines[3][2])
	assert.Equal(t, "cici", lines[3][7])

	p := report.BuildPayroll(dec(1000), records, nil)
	buf.Reset()
	require.NoError(t, report.WritePayrollCSV(&buf, p))
	assert.NotContains(t, buf.String(), "\n@evil")
	assert.Contains(t, buf.String(), "'@evil")

	buf.Reset()
	require.NoError(t, report.WritePayrollDailyCSV(&buf, p))
	assert.Contains(t, buf.String(), ",'+bob,")
}
