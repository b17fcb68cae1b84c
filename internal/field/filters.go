package field

import (
	"fmt"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/itchyny/timefmt-go"
	"github.com/shopspring/decimal"
)

// DefaultDateFormat is the strftime layout used by parse_date without an argument.
const DefaultDateFormat = "%d/%m/%Y"

func init() {
	pongo2.SetAutoescape(false)
	if err := pongo2.RegisterFilter("parse_monetary", filterParseMonetary); err != nil {
		panic(err)
	}
	if err := pongo2.RegisterFilter("parse_date", filterParseDate); err != nil {
		panic(err)
	}
}

// NormalizeMonetary turns "1,234.56", "1.234,56" or "1 234,56" into a plain
// decimal string. When both separators occur, the one three characters from
// the end is the decimal point.
func NormalizeMonetary(s string) (string, error) {
	s = strings.Join(strings.Fields(s), "")
	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		if r := []rune(s); len(r) >= 3 {
			switch r[len(r)-3] {
			case '.':
				s = strings.ReplaceAll(s, ",", "")
			case ',':
				s = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
			}
		}
	case hasComma:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("invalid monetary value %q", s)
	}
	return d.String(), nil
}

// ParseDate parses s with a strftime layout and returns an ISO date.
func ParseDate(s, layout string) (string, error) {
	t, err := timefmt.Parse(strings.TrimSpace(s), layout)
	if err != nil {
		return "", fmt.Errorf("date %q does not match %q", s, layout)
	}
	return t.Format(time.DateOnly), nil
}

func filterParseMonetary(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	out, err := NormalizeMonetary(in.String())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:parse_monetary", OrigError: err}
	}
	return pongo2.AsValue(out), nil
}

func filterParseDate(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	layout := DefaultDateFormat
	if param != nil && !param.IsNil() && param.String() != "" {
		layout = param.String()
	}
	out, err := ParseDate(in.String(), layout)
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:parse_date", OrigError: err}
	}
	return pongo2.AsValue(out), nil
}
