package datakind

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		kind  Kind
		input string
		want  Value
	}{
		{String, " anything ", " anything "},
		{URL, "https://example.com/a?b=c", "https://example.com/a?b=c"},
		{Date, "2024-02-29", CalendarDate{2024, time.February, 29}},
		{Boolean, "Yes", true},
		{Boolean, "FALSE", false},
		{Integer, "42", int64(42)},
		{Integer, "-7", int64(-7)},
		{Float, "3.25", 3.25},
		{Monetary, "1234.56", Money{Amount: decimal.RequireFromString("1234.56")}},
		{Monetary, "EUR1234.56", Money{Currency: "EUR", Amount: decimal.RequireFromString("1234.56")}},
		{DocumentLink, "[1, 2, 3]", []int64{1, 2, 3}},
		{DocumentLink, "[]", []int64{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.input, func(t *testing.T) {
			got, err := Parse(tt.kind, tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.kind, tt.want, got), "got %#v", got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		kind  Kind
		input string
		err   error
	}{
		{URL, "example.com", ErrInvalidURL},
		{URL, "ftp://example.com", ErrInvalidURL},
		{Date, "2024-13-01", ErrInvalidDate},
		{Date, "01/02/2024", ErrInvalidDate},
		{Boolean, "maybe", ErrInvalidBoolean},
		{Integer, "4.2", ErrInvalidNumber},
		{Float, "abc", ErrInvalidNumber},
		{Float, "NaN", ErrInvalidNumber},
		{Monetary, "1,234.56", ErrInvalidNumber},
		{Monetary, "QQQ12.00", ErrInvalidNumber},
		{DocumentLink, "[1, \"a\"]", ErrInvalidDocumentLink},
		{DocumentLink, "[1.5]", ErrInvalidDocumentLink},
		{DocumentLink, "{}", ErrInvalidDocumentLink},
		{Kind("color"), "red", ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.input, func(t *testing.T) {
			_, err := Parse(tt.kind, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var convErr *ConversionError
			require.ErrorAs(t, err, &convErr)
			assert.Equal(t, tt.kind, convErr.Kind)
			assert.Equal(t, tt.input, convErr.Value)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := map[Kind][]string{
		String:       {"", "hello world"},
		URL:          {"http://paperless.local/documents/1/"},
		Date:         {"1999-12-31", "2024-01-05"},
		Boolean:      {"true", "false"},
		Integer:      {"0", "123456789", "-5"},
		Float:        {"0.1", "1e+100", "-2.5"},
		Monetary:     {"12.50", "EUR0.99", "USD-3", "EUR12.345", "0.005"},
		DocumentLink: {"[4,5]", "[]"},
	}

	for kind, values := range inputs {
		for _, in := range values {
			v, err := Parse(kind, in)
			require.NoError(t, err, "%s %q", kind, in)

			s, err := Format(kind, v)
			require.NoError(t, err)

			again, err := Parse(kind, s)
			require.NoError(t, err)
			assert.True(t, Equal(kind, v, again), "%s %q -> %q", kind, in, s)
		}
	}
}

func TestWire_RoundTripIsStable(t *testing.T) {
	for kind, inputs := range map[Kind][]string{
		Monetary: {"EUR12.345", "12.344", "USD-0.999", "EUR1234.5"},
		Date:     {"2024-02-29"},
	} {
		for _, in := range inputs {
			v, err := Parse(kind, in)
			require.NoError(t, err, "%s %q", kind, in)

			w, err := ToWire(kind, v)
			require.NoError(t, err)
			back, err := FromWire(kind, w)
			require.NoError(t, err)
			assert.True(t, Equal(kind, v, back), "%s %q -> %v -> %v", kind, in, w, back)
		}
	}
}

func TestParse_MonetaryRoundsToCents(t *testing.T) {
	v, err := Parse(Monetary, "EUR12.345")
	require.NoError(t, err)
	assert.Equal(t, "EUR12.35", v.(Money).String())

	w, err := ToWire(Monetary, v)
	require.NoError(t, err)
	assert.Equal(t, "EUR12.35", w)
}

func TestRoundTrip_ExactForDiscreteKinds(t *testing.T) {
	for kind, in := range map[Kind]string{
		String:  "x y",
		Date:    "2024-03-09",
		Boolean: "true",
		Integer: "99",
	} {
		v, err := Parse(kind, in)
		require.NoError(t, err)
		s, err := Format(kind, v)
		require.NoError(t, err)
		assert.Equal(t, in, s)
	}
}

func TestFormat_WrongType(t *testing.T) {
	_, err := Format(Integer, "12")
	var convErr *ConversionError
	assert.ErrorAs(t, err, &convErr)
}

func TestWire(t *testing.T) {
	var decoded []any
	require.NoError(t, json.Unmarshal([]byte(`["EUR10.00", 3, true, "2024-05-01", [7, 8], null, 2.5]`), &decoded))

	money, err := FromWire(Monetary, decoded[0])
	require.NoError(t, err)
	assert.True(t, Equal(Monetary, Money{Currency: "EUR", Amount: decimal.NewFromInt(10)}, money))

	n, err := FromWire(Integer, decoded[1])
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	b, err := FromWire(Boolean, decoded[2])
	require.NoError(t, err)
	assert.Equal(t, true, b)

	d, err := FromWire(Date, decoded[3])
	require.NoError(t, err)
	assert.Equal(t, CalendarDate{2024, time.May, 1}, d)

	links, err := FromWire(DocumentLink, decoded[4])
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, links)

	null, err := FromWire(String, decoded[5])
	require.NoError(t, err)
	assert.Nil(t, null)

	_, err = FromWire(Integer, decoded[6])
	assert.Error(t, err)

	w, err := ToWire(Monetary, money)
	require.NoError(t, err)
	assert.Equal(t, "EUR10.00", w)

	w, err = ToWire(Date, d)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", w)

	w, err = ToWire(Integer, n)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Monetary,
		Money{Amount: decimal.RequireFromString("1.50")},
		Money{Amount: decimal.RequireFromString("1.5")}))
	assert.False(t, Equal(Monetary,
		Money{Currency: "EUR", Amount: decimal.NewFromInt(1)},
		Money{Currency: "USD", Amount: decimal.NewFromInt(1)}))
	assert.True(t, Equal(String, nil, nil))
	assert.False(t, Equal(String, nil, "a"))
	assert.False(t, Equal(DocumentLink, []int64{1}, []int64{2}))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("monetary")
	require.NoError(t, err)
	assert.Equal(t, Monetary, k)

	_, err = ParseKind("select")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCalendarDate_Text(t *testing.T) {
	var d CalendarDate
	require.NoError(t, d.UnmarshalText([]byte("2023-07-14")))
	assert.Equal(t, "2023-07-14", d.String())
	assert.True(t, d.Before(CalendarDate{2023, time.July, 15}))
	assert.True(t, d.After(CalendarDate{2023, time.July, 13}))
	assert.Error(t, d.UnmarshalText([]byte("14.07.2023")))
}
