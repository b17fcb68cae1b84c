// Package expr compiles the placeholder expression language used by regions
// into regular expressions.
//
// An expression is literal text mixed with wildcards and placeholders:
//
//	Invoice amount € <Amount:number:comma>
//	Order * <Id:int>
//
// "*" matches any text (non-greedy), "?" matches one character and
// <name:type[:arg]> captures a named group. A backslash escapes < > * ? and
// itself. Runs of whitespace in literal text match one or more whitespace
// characters so re-flowed text still matches.
//
// A number matches digit groups joined by single spaces, dots or commas in
// either style, so "1,234.56" and "1.234,56" are captured whole whatever
// decimal symbol the placeholder declares. The dot or comma argument only
// records the intended symbol on the Placeholder; converting the captured
// text is left to the field templates.
package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/a3tai/plngx-dissect/internal/cache"
)

// ErrExpression is matched by every compile error via errors.Is.
var ErrExpression = errors.New("expression error")

// Error describes a grammar violation. Token names the offending placeholder
// or type when there is one.
type Error struct {
	Token string
	Msg   string
}

func (e *Error) Error() string {
	return e.Msg
}

// Unwrap returns ErrExpression.
func (e *Error) Unwrap() error {
	return ErrExpression
}

func errorf(token, format string, args ...any) *Error {
	return &Error{Token: token, Msg: fmt.Sprintf(format, args...)}
}

// Placeholder is one <name:type[:arg]> occurrence.
type Placeholder struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Decimal string `json:"decimal,omitempty"`
}

// Expression is a compiled expression.
type Expression struct {
	Source       string        `json:"source"`
	Regex        string        `json:"regex"`
	Placeholders []Placeholder `json:"placeholders"`
}

var (
	placeholderName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// Compile translates expr into a regular expression string.
func Compile(expr string) (string, error) {
	e, err := Parse(expr)
	if err != nil {
		return "", err
	}
	return e.Regex, nil
}

var compiled = cache.NewLRU[string, *Expression](512)

// Cached is Parse memoised by source string. Only successful compilations are kept.
func Cached(expr string) (*Expression, error) {
	return compiled.GetOrCompute(expr, func() (*Expression, error) {
		return Parse(expr)
	})
}

// Parse compiles expr and reports the placeholders it declares.
func Parse(expr string) (*Expression, error) {
	var (
		out          strings.Builder
		literal      strings.Builder
		placeholder  strings.Builder
		inBrackets   bool
		placeholders []Placeholder
		seen         = map[string]bool{}
	)

	flushLiteral := func() {
		if literal.Len() == 0 {
			return
		}
		out.WriteString(literalRegex(literal.String()))
		literal.Reset()
	}

	runes := []rune(expr)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) && strings.ContainsRune(`<>*?\`, runes[i+1]) {
			i++
			if inBrackets {
				placeholder.WriteRune(runes[i])
			} else {
				literal.WriteRune(runes[i])
			}
			continue
		}

		if inBrackets {
			switch r {
			case '>':
				p, err := parsePlaceholder(placeholder.String())
				if err != nil {
					return nil, err
				}
				if seen[p.Name] {
					return nil, errorf(p.Name, "placeholder name %q is used more than once", p.Name)
				}
				seen[p.Name] = true
				matcher, err := matcherFor(p)
				if err != nil {
					return nil, err
				}
				out.WriteString(matcher)
				placeholders = append(placeholders, p)
				placeholder.Reset()
				inBrackets = false
			case '<':
				return nil, errorf(placeholder.String(), "placeholder %q contains a nested \"<\"", placeholder.String())
			default:
				placeholder.WriteRune(r)
			}
			continue
		}

		switch r {
		case '<':
			flushLiteral()
			inBrackets = true
		case '*':
			flushLiteral()
			out.WriteString(`.*?`)
		case '?':
			flushLiteral()
			out.WriteString(`.`)
		default:
			literal.WriteRune(r)
		}
	}

	if inBrackets {
		return nil, errorf(placeholder.String(), "placeholder %q is not terminated", placeholder.String())
	}
	flushLiteral()

	if placeholders == nil {
		placeholders = []Placeholder{}
	}
	return &Expression{Source: expr, Regex: out.String(), Placeholders: placeholders}, nil
}

// literalRegex quotes text and turns whitespace runs into \s+.
func literalRegex(text string) string {
	parts := whitespaceRun.Split(text, -1)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return strings.Join(parts, `\s+`)
}

func parsePlaceholder(body string) (Placeholder, error) {
	parts := strings.Split(strings.TrimSpace(body), ":")
	if len(parts) < 2 {
		return Placeholder{}, errorf(body, "placeholder %q must specify name and type", body)
	}

	name := parts[0]
	if name == "" {
		return Placeholder{}, errorf(body, "placeholder name can not be empty in %q", body)
	}
	if !placeholderName.MatchString(name) {
		return Placeholder{}, errorf(name, "placeholder name %q can not contain special characters", name)
	}

	p := Placeholder{Name: name, Type: strings.ToLower(parts[1])}
	args := parts[2:]

	switch p.Type {
	case "word", "int", "integer":
		if len(args) > 0 {
			return Placeholder{}, errorf(p.Type, "placeholder type %q in %q takes no arguments", p.Type, name)
		}
	case "number", "decimal":
		p.Decimal = "dot"
		if len(args) > 1 {
			return Placeholder{}, errorf(p.Type, "placeholder type %q in %q takes at most one argument", p.Type, name)
		}
		if len(args) == 1 {
			switch arg := strings.ToLower(args[0]); arg {
			case "dot", "comma":
				p.Decimal = arg
			default:
				return Placeholder{}, errorf(args[0], "number type of %q must be \"dot\" or \"comma\", got %q", name, args[0])
			}
		}
	default:
		return Placeholder{}, errorf(parts[1], "unknown placeholder type %q in %q", parts[1], name)
	}
	return p, nil
}

func matcherFor(p Placeholder) (string, error) {
	switch p.Type {
	case "word":
		return fmt.Sprintf(`(?P<%s>[\p{L}\p{N}_]+)`, p.Name), nil
	case "int", "integer":
		return fmt.Sprintf(`(?P<%s>[0-9]+)`, p.Name), nil
	case "number", "decimal":
		return fmt.Sprintf(`(?P<%s>[0-9](?:[0-9]|[ .,][0-9])*)`, p.Name), nil
	default:
		return "", errorf(p.Type, "unknown placeholder type %q", p.Type)
	}
}
