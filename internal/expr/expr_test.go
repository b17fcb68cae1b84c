package expr

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Deterministic(t *testing.T) {
	first, err := Compile("Invoice <amt:number:dot>")
	require.NoError(t, err)
	second, err := Compile("Invoice <amt:number:dot>")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompile_Literal(t *testing.T) {
	out, err := Compile("Total (EUR):  5.00")
	require.NoError(t, err)
	assert.Equal(t, `Total\s+\(EUR\):\s+5\.00`, out)

	re := regexp.MustCompile(out)
	assert.True(t, re.MatchString("Total\n(EUR): 5.00"))
	assert.False(t, re.MatchString("Total (EUR): 5x00"))
}

func TestCompile_Wildcards(t *testing.T) {
	out, err := Compile("a*b?c")
	require.NoError(t, err)
	assert.Equal(t, `a.*?b.c`, out)
}

func TestCompile_EscapedMetaCharacters(t *testing.T) {
	out, err := Compile(`\<x\> \* \?`)
	require.NoError(t, err)
	re := regexp.MustCompile("^" + out + "$")
	assert.True(t, re.MatchString("<x> * ?"))
}

func TestCompile_Placeholders(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		input string
		group string
		want  string
	}{
		{"word", "From <Name:word>", "From Müller GmbH", "Name", "Müller"},
		{"int", "Order <Id:int>", "Order 4711", "Id", "4711"},
		{"integer alias", "Order <Id:integer>", "Order 12 x", "Id", "12"},
		{"number dot", "Total <Amount:number:dot>", "Total 1,234.56 EUR", "Amount", "1,234.56"},
		{"number comma", "Total <Amount:decimal:comma>", "Total 1.234,56 EUR", "Amount", "1.234,56"},
		{"number default", "Total <Amount:number>", "Total 99", "Amount", "99"},
		{"number comma keeps dot style", "amount € <Amount:number:comma>", "amount € 1,234.56", "Amount", "1,234.56"},
		{"number dot keeps comma style", "Total <Amount:number:dot>", "Total 1.234,56", "Amount", "1.234,56"},
		{"number stops at lone separator", "Total <Amount:number>", "Total 12. Due", "Amount", "12"},
		{"type case insensitive", "Order <Id:INT>", "Order 7", "Id", "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Compile(tt.expr)
			require.NoError(t, err)

			re := regexp.MustCompile("(?i)" + out)
			m := re.FindStringSubmatch(tt.input)
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m[re.SubexpIndex(tt.group)])
		})
	}
}

func TestParse_ReportsPlaceholders(t *testing.T) {
	e, err := Parse("<Amount:number:comma> <Id:int>")
	require.NoError(t, err)
	assert.Equal(t, []Placeholder{
		{Name: "Amount", Type: "number", Decimal: "comma"},
		{Name: "Id", Type: "int"},
	}, e.Placeholders)
}

func TestCompile_NoPlaceholders(t *testing.T) {
	e, err := Parse("plain text")
	require.NoError(t, err)
	assert.Empty(t, e.Placeholders)
	assert.Equal(t, `plain\s+text`, e.Regex)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		token string
	}{
		{"missing type", "<bad>", "bad"},
		{"empty name", "<:word>", ":word"},
		{"special characters", "<1st:word>", "1st"},
		{"unknown type", "<x:float>", "float"},
		{"bad decimal", "<x:number:point>", "point"},
		{"unterminated", "Total <x:int", "x:int"},
		{"nested", "<x:<y:int>>", "x:"},
		{"duplicate name", "<x:int> <x:word>", "x"},
		{"arguments on int", "<x:int:dot>", "int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrExpression))

			var exprErr *Error
			require.True(t, errors.As(err, &exprErr))
			assert.Equal(t, tt.token, exprErr.Token)
			assert.Contains(t, err.Error(), tt.token)
		})
	}
}

func TestCached(t *testing.T) {
	a, err := Cached("Invoice <Id:int>")
	require.NoError(t, err)
	b, err := Cached("Invoice <Id:int>")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = Cached("<bad>")
	assert.ErrorIs(t, err, ErrExpression)
}
