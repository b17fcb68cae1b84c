package region

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Mode says how a region picks its page.
type Mode int

const (
	// LastMatch selects the last page whose result matched. It is the zero value.
	LastMatch Mode = iota
	FirstMatch
	ExactPage
)

const (
	firstMatchName = "first_match"
	lastMatchName  = "last_match"
)

// Selector is the page selection of a region: an exact page index or the
// first or last page that produced a match. Serialised as an integer or as
// "first_match" / "last_match".
type Selector struct {
	Mode Mode
	Page int
}

// Page selects a fixed page index. Negative indexes count from the end.
func Page(n int) Selector {
	return Selector{Mode: ExactPage, Page: n}
}

func (s Selector) String() string {
	switch s.Mode {
	case FirstMatch:
		return firstMatchName
	case ExactPage:
		return strconv.Itoa(s.Page)
	default:
		return lastMatchName
	}
}

func parseSelector(s string) (Selector, error) {
	switch s {
	case firstMatchName:
		return Selector{Mode: FirstMatch}, nil
	case lastMatchName, "":
		return Selector{Mode: LastMatch}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid page selector %q: expected page index, %q or %q", s, firstMatchName, lastMatchName)
	}
	return Page(n), nil
}

func (s Selector) MarshalJSON() ([]byte, error) {
	if s.Mode == ExactPage {
		return json.Marshal(s.Page)
	}
	return json.Marshal(s.String())
}

func (s *Selector) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Page(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("invalid page selector %s", data)
	}
	parsed, err := parseSelector(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Selector) MarshalYAML() (any, error) {
	if s.Mode == ExactPage {
		return s.Page, nil
	}
	return s.String(), nil
}

func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: page selector must be a scalar", node.Line)
	}
	parsed, err := parseSelector(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = parsed
	return nil
}
