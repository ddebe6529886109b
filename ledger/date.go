package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - calendar date without a time component
// =============================================================================

// DateLayout is the storage and wire format of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day. The time part is always midnight UTC so that two
// dates compare equal iff they name the same day.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as seen in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current calendar day in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// ParseDate parses exactly YYYY-MM-DD. Client input goes through here.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return DateOf(t), nil
}

// ParseStoredDate parses a date column. Besides YYYY-MM-DD it accepts the
// timestamp forms some sqlite drivers return for DATE columns
// ("2024-05-01 00:00:00+00:00", "2024-05-01T00:00:00Z") and truncates them
// to the day. The time part must itself be a valid time.
func ParseStoredDate(s string) (Date, error) {
	n := len(DateLayout)
	if len(s) <= n {
		return ParseDate(s)
	}
	if s[n] != ' ' && s[n] != 'T' {
		return Date{}, fmt.Errorf("invalid stored date %q", s)
	}
	for _, layout := range storedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day()), nil
		}
	}
	return Date{}, fmt.Errorf("invalid stored date %q", s)
}

var storedDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func (d Date) Year() int { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int { return d.Time.Day() }
func (d Date) IsZero() bool { return d.Time.IsZero() }
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) String() string { return d.Time.Format(DateLayout) }
func (d Date) MonthString() string { return d.Time.Format("01") }
func (d Date) YearString() string { return d.Time.Format("2006") }

// PadMonth renders a month number the way the stored date renders it ("05").
func PadMonth(month int) string { return fmt.Sprintf("%02d", month) }

// PadYear renders a year number the way the stored date renders it ("2024").
func PadYear(year int) string { return fmt.Sprintf("%04d", year) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
