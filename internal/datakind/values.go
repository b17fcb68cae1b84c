package datakind

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CalendarDate is a date without time of day or location.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (CalendarDate, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return CalendarDate{}, err
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the date.
func (d CalendarDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d CalendarDate) IsZero() bool {
	return d == CalendarDate{}
}

func (d CalendarDate) Before(o CalendarDate) bool { return d.Time().Before(o.Time()) }
func (d CalendarDate) After(o CalendarDate) bool  { return d.Time().After(o.Time()) }

func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText encodes the zero date as an empty string.
func (d CalendarDate) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *CalendarDate) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = CalendarDate{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return conversionError(Date, string(b), ErrInvalidDate)
	}
	*d = parsed
	return nil
}

// Money is a monetary amount with an optional ISO 4217 currency code.
type Money struct {
	Currency string
	Amount   decimal.Decimal
}

// String renders the amount the way paperless displays it, e.g. EUR1234.5.
func (m Money) String() string {
	return m.Currency + m.Amount.String()
}

// Equal compares currency codes and numeric amounts.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}
