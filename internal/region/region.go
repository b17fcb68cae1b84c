// Package region evaluates region expressions against page text and selects
// the page whose captures feed field resolution.
package region

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/a3tai/plngx-dissect/internal/cache"
	"github.com/a3tai/plngx-dissect/internal/expr"
	"github.com/a3tai/plngx-dissect/internal/layout"
)

// Kind selects the expression language of a region.
type Kind string

const (
	// KindSimple regions hold a placeholder expression, matched case-insensitively.
	KindSimple Kind = "simple"
	// KindRegex regions hold a raw regular expression.
	KindRegex Kind = "regex"
)

// Region is a rectangle on a page together with the expression run over its text.
type Region struct {
	layout.Rect `yaml:",inline"`
	Page        Selector `json:"page" yaml:"page"`
	Kind        Kind     `json:"kind" yaml:"kind"`
	SimpleExpr  string   `json:"simple_expr,omitempty" yaml:"simple_expr,omitempty"`
	RegexExpr   string   `json:"regex_expr,omitempty" yaml:"regex_expr,omitempty"`
}

// Expression returns the source of the active expression kind.
func (r Region) Expression() string {
	if r.Kind == KindRegex {
		return r.RegexExpr
	}
	return r.SimpleExpr
}

var matchers = cache.NewLRU[string, *regexp.Regexp](512)

// Matcher compiles the region's expression. A region without an expression
// has no matcher and returns nil, nil.
func (r Region) Matcher() (*regexp.Regexp, error) {
	source := r.Expression()
	if source == "" {
		return nil, nil
	}

	switch r.Kind {
	case KindSimple, "":
		return matchers.GetOrCompute("simple\x00"+source, func() (*regexp.Regexp, error) {
			e, err := expr.Cached(source)
			if err != nil {
				return nil, err
			}
			return regexp.Compile("(?ism)" + e.Regex)
		})
	case KindRegex:
		return matchers.GetOrCompute("regex\x00"+source, func() (*regexp.Regexp, error) {
			return regexp.Compile("(?sm)" + source)
		})
	default:
		return nil, fmt.Errorf("unknown region kind %q", r.Kind)
	}
}

// Result is the outcome of a region on one page.
type Result struct {
	Page  int    `json:"page"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
	// GroupValues is nil when nothing matched and empty when a match had no
	// named groups.
	GroupValues map[string]string `json:"group_values"`
	// GroupSpans are character offsets into Text.
	GroupSpans map[string][2]int `json:"group_spans,omitempty"`
	Retained   bool              `json:"retained"`
}

// Matched reports whether the expression matched.
func (r Result) Matched() bool {
	return r.GroupValues != nil
}

// EvaluateOnPage runs the region's expression over the region text of page.
func (r Region) EvaluateOnPage(page *layout.Page) Result {
	res := Result{Page: page.Number(), Text: page.RegionText(r.Rect)}

	re, err := r.Matcher()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if re == nil {
		return res
	}

	loc := re.FindStringSubmatchIndex(res.Text)
	if loc == nil {
		return res
	}

	res.GroupValues = map[string]string{}
	res.GroupSpans = map[string][2]int{}
	for i, name := range re.SubexpNames() {
		if name == "" || loc[2*i] < 0 {
			continue
		}
		start, end := loc[2*i], loc[2*i+1]
		res.GroupValues[name] = res.Text[start:end]
		res.GroupSpans[name] = [2]int{
			utf8.RuneCountInString(res.Text[:start]),
			utf8.RuneCountInString(res.Text[:end]),
		}
	}
	return res
}

// MatchesOnPage reports whether the expression matches anywhere in the
// region text of page. Compile errors are returned.
func (r Region) MatchesOnPage(page *layout.Page) (bool, error) {
	re, err := r.Matcher()
	if err != nil {
		return false, err
	}
	if re == nil {
		return false, nil
	}
	return re.MatchString(page.RegionText(r.Rect)), nil
}

// SelectResult returns the index of the result chosen by sel, scanning
// forward for FirstMatch and backward for LastMatch. An exact page is chosen
// only when it matched.
func SelectResult(sel Selector, results []Result) (int, bool) {
	switch sel.Mode {
	case ExactPage:
		i := sel.Page
		if i < 0 {
			i += len(results)
		}
		if i < 0 || i >= len(results) || !results[i].Matched() {
			return -1, false
		}
		return i, true
	case FirstMatch:
		for i, res := range results {
			if res.Matched() {
				return i, true
			}
		}
	default:
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].Matched() {
				return i, true
			}
		}
	}
	return -1, false
}

// Evaluation holds the per-page results of a list of regions and the page
// retained for each.
type Evaluation struct {
	// Results is indexed by region, then page.
	Results [][]Result `json:"results"`
	// Retained is the index into Results[i] of the selected page, or -1.
	Retained []int `json:"retained"`
}

// EvaluateDocument evaluates every region on every page.
func EvaluateDocument(regions []Region, pages []*layout.Page) Evaluation {
	ev := Evaluation{
		Results:  make([][]Result, len(regions)),
		Retained: make([]int, len(regions)),
	}
	for i, r := range regions {
		results := make([]Result, len(pages))
		for j, p := range pages {
			results[j] = r.EvaluateOnPage(p)
		}

		idx, ok := SelectResult(r.Page, results)
		if ok {
			results[idx].Retained = true
		}
		ev.Results[i] = results
		ev.Retained[i] = idx
	}
	return ev
}

// Selected returns the retained result of region i.
func (ev Evaluation) Selected(i int) (Result, bool) {
	if i < 0 || i >= len(ev.Retained) || ev.Retained[i] < 0 {
		return Result{}, false
	}
	return ev.Results[i][ev.Retained[i]], true
}

// RetainedGroups merges the capture groups of every retained result in
// region order. Later regions override earlier ones on name clashes.
func (ev Evaluation) RetainedGroups() map[string]string {
	groups := map[string]string{}
	for i := range ev.Retained {
		res, ok := ev.Selected(i)
		if !ok {
			continue
		}
		for k, v := range res.GroupValues {
			groups[k] = v
		}
	}
	return groups
}
