package datakind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Value is the internal representation of a typed value: string, CalendarDate,
// bool, int64, float64, Money or []int64.
type Value any

const documentLinkSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"items": {"type": "integer"}
}`

var linkSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("documentlink.json", strings.NewReader(documentLinkSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("documentlink.json")
})

// Parse converts an extracted string into the internal value for kind.
func Parse(kind Kind, s string) (Value, error) {
	switch kind {
	case String:
		return s, nil
	case URL:
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, conversionError(kind, s, ErrInvalidURL)
		}
		return strings.TrimSpace(s), nil
	case Date:
		d, err := ParseDate(s)
		if err != nil {
			return nil, conversionError(kind, s, ErrInvalidDate)
		}
		return d, nil
	case Boolean:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
		return nil, conversionError(kind, s, ErrInvalidBoolean)
	case Integer:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, conversionError(kind, s, ErrInvalidNumber)
		}
		return n, nil
	case Float:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, conversionError(kind, s, ErrInvalidNumber)
		}
		return f, nil
	case Monetary:
		return parseMoney(s)
	case DocumentLink:
		return parseDocumentLink([]byte(s))
	}
	return nil, conversionError(kind, s, ErrUnknownKind)
}

const moneyDecimals = 2

func parseMoney(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	var m Money

	if r := []rune(raw); len(r) > 3 && isLetters(r[:3]) {
		unit, err := currency.ParseISO(string(r[:3]))
		if err != nil {
			return Money{}, conversionError(Monetary, s, fmt.Errorf("%w: unknown currency %q", ErrInvalidNumber, string(r[:3])))
		}
		m.Currency = unit.String()
		raw = strings.TrimSpace(string(r[3:]))
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, conversionError(Monetary, s, ErrInvalidNumber)
	}
	// Amounts keep the two decimals paperless stores.
	m.Amount = amount.Round(moneyDecimals)
	return m, nil
}

func isLetters(rs []rune) bool {
	for _, r := range rs {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func parseDocumentLink(data []byte) ([]int64, error) {
	schema, err := linkSchema()
	if err != nil {
		return nil, fmt.Errorf("documentlink schema: %w", err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return nil, conversionError(DocumentLink, string(data), ErrInvalidDocumentLink)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, conversionError(DocumentLink, string(data), ErrInvalidDocumentLink)
	}

	ids := []int64{}
	for _, item := range doc.([]any) {
		n, err := item.(json.Number).Int64()
		if err != nil {
			return nil, conversionError(DocumentLink, string(data), ErrInvalidDocumentLink)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

// Format is the inverse of Parse: it renders an internal value back into the
// string form Parse accepts.
func Format(kind Kind, v Value) (string, error) {
	bad := func() (string, error) {
		return "", conversionError(kind, fmt.Sprint(v), fmt.Errorf("unexpected %T", v))
	}

	switch kind {
	case String, URL:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		return s, nil
	case Date:
		d, ok := v.(CalendarDate)
		if !ok {
			return bad()
		}
		return d.String(), nil
	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return bad()
		}
		return strconv.FormatBool(b), nil
	case Integer:
		n, ok := v.(int64)
		if !ok {
			return bad()
		}
		return strconv.FormatInt(n, 10), nil
	case Float:
		f, ok := v.(float64)
		if !ok {
			return bad()
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case Monetary:
		m, ok := v.(Money)
		if !ok {
			return bad()
		}
		return m.String(), nil
	case DocumentLink:
		ids, ok := v.([]int64)
		if !ok {
			return bad()
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", conversionError(kind, fmt.Sprint(v), ErrUnknownKind)
}

// FromWire converts a value decoded from paperless JSON into the internal
// representation. A nil wire value yields a nil Value.
func FromWire(kind Kind, w any) (Value, error) {
	if w == nil {
		return nil, nil
	}

	switch kind {
	case Boolean:
		if b, ok := w.(bool); ok {
			return b, nil
		}
	case Integer:
		switch n := w.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case json.Number:
			return Parse(kind, n.String())
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		}
	case Float:
		switch n := w.(type) {
		case float64:
			return n, nil
		case json.Number:
			return Parse(kind, n.String())
		}
	case Monetary:
		switch n := w.(type) {
		case float64:
			return Money{Amount: decimal.NewFromFloat(n)}, nil
		case json.Number:
			return Parse(kind, n.String())
		}
	case DocumentLink:
		if items, ok := w.([]any); ok {
			b, err := json.Marshal(items)
			if err != nil {
				return nil, conversionError(kind, fmt.Sprint(w), ErrInvalidDocumentLink)
			}
			return parseDocumentLink(b)
		}
	}

	if s, ok := w.(string); ok {
		return Parse(kind, s)
	}
	return nil, conversionError(kind, fmt.Sprint(w), fmt.Errorf("unexpected wire type %T", w))
}

// ToWire renders an internal value the way the paperless API expects it.
// Monetary amounts are sent with two decimals.
func ToWire(kind Kind, v Value) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case Monetary:
		m, ok := v.(Money)
		if !ok {
			return nil, conversionError(kind, fmt.Sprint(v), fmt.Errorf("unexpected %T", v))
		}
		return m.Currency + m.Amount.StringFixed(moneyDecimals), nil
	case Boolean, Integer, Float, DocumentLink:
		if _, err := Format(kind, v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return Format(kind, v)
	}
}

// Equal reports whether two internal values of kind are the same value.
func Equal(kind Kind, a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch kind {
	case Monetary:
		ma, okA := a.(Money)
		mb, okB := b.(Money)
		return okA && okB && ma.Equal(mb)
	case DocumentLink:
		la, okA := a.([]int64)
		lb, okB := b.([]int64)
		return okA && okB && slices.Equal(la, lb)
	default:
		return a == b
	}
}
