// Package pattern defines extraction patterns and their file-backed store.
package pattern

import (
	"errors"
	"fmt"

	"github.com/a3tai/plngx-dissect/internal/check"
	"github.com/a3tai/plngx-dissect/internal/datakind"
	"github.com/a3tai/plngx-dissect/internal/field"
	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/a3tai/plngx-dissect/internal/region"
)

// PreprocessForceOCR marks patterns whose documents should be re-OCRed
// upstream before extraction. It is stored but not acted on here.
const PreprocessForceOCR = "force-ocr"

var ErrInvalidPattern = errors.New("invalid pattern")

// Pattern selects documents with checks, captures values with regions and
// writes them back through fields.
type Pattern struct {
	Name string `json:"name" yaml:"name"`
	// Page is the page checks run against. Negative values count from the end.
	Page       int             `json:"page" yaml:"page"`
	Preprocess string          `json:"preprocess,omitempty" yaml:"preprocess,omitempty"`
	Checks     check.List      `json:"checks" yaml:"checks"`
	Regions    []region.Region `json:"regions" yaml:"regions"`
	Fields     []field.Field   `json:"fields" yaml:"fields"`
}

// Validate checks the parts of a pattern that decoding does not.
func (p *Pattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPattern)
	}
	if p.Preprocess != "" && p.Preprocess != PreprocessForceOCR {
		return fmt.Errorf("%w: unknown preprocess %q", ErrInvalidPattern, p.Preprocess)
	}
	for i, r := range p.Regions {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: region %d: %v", ErrInvalidPattern, i, err)
		}
		switch r.Kind {
		case "", region.KindSimple, region.KindRegex:
		default:
			return fmt.Errorf("%w: region %d: unknown kind %q", ErrInvalidPattern, i, r.Kind)
		}
	}
	for i, f := range p.Fields {
		switch f.Kind {
		case field.KindCustom:
		case field.KindAttr:
			if _, ok := field.AttributeKind(f.Name); !ok {
				return fmt.Errorf("%w: field %d: unknown attribute %q", ErrInvalidPattern, i, f.Name)
			}
		default:
			return fmt.Errorf("%w: field %d: unknown kind %q", ErrInvalidPattern, i, f.Kind)
		}
		if f.Name == "" {
			return fmt.Errorf("%w: field %d: name is required", ErrInvalidPattern, i)
		}
	}
	return nil
}

// SelectPage returns the page checks run against, or nil when Page is out of range.
func (p *Pattern) SelectPage(pages []*layout.Page) *layout.Page {
	i := p.Page
	if i < 0 {
		i += len(pages)
	}
	if i < 0 || i >= len(pages) {
		return nil
	}
	return pages[i]
}

// MatchError wraps an error raised by a check. The pattern is treated as
// not matching.
type MatchError struct {
	Pattern string
	Err     error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("pattern %q: %v", e.Pattern, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

// Match evaluates the top-level checks. A non-nil error is always a
// *MatchError and comes with matched == false.
func (p *Pattern) Match(pages []*layout.Page, meta check.Metadata) (bool, error) {
	page := p.SelectPage(pages)
	if page == nil {
		return false, nil
	}
	ok, err := p.Checks.Evaluate(&check.Target{Pages: pages, Page: page, Meta: meta})
	if err != nil {
		return false, &MatchError{Pattern: p.Name, Err: err}
	}
	return ok, nil
}

// Matches is Match without the error.
func (p *Pattern) Matches(pages []*layout.Page, meta check.Metadata) bool {
	ok, _ := p.Match(pages, meta)
	return ok
}

// KindResolver looks up the data kind of a custom field by name.
type KindResolver interface {
	CustomFieldKind(name string) (datakind.Kind, error)
}

// Evaluation is the full outcome of a pattern on one document. Errors of
// individual checks, regions and fields are reported inline.
type Evaluation struct {
	Pattern    string            `json:"pattern"`
	Matched    bool              `json:"matched"`
	MatchError string            `json:"match_error,omitempty"`
	Checks     []check.Result    `json:"checks"`
	Regions    region.Evaluation `json:"regions"`
	Fields     []field.Result    `json:"fields"`
}

// FieldError returns the first field error, if any.
func (ev *Evaluation) FieldError() error {
	for _, f := range ev.Fields {
		if f.Error != "" {
			return fmt.Errorf("field %q: %s", f.Name, f.Error)
		}
	}
	return nil
}

// Evaluate runs checks, regions and fields. kinds may be nil, in which case
// custom fields are rendered but not converted.
func (p *Pattern) Evaluate(pages []*layout.Page, meta check.Metadata, kinds KindResolver) Evaluation {
	ev := Evaluation{Pattern: p.Name, Checks: []check.Result{}}

	if page := p.SelectPage(pages); page != nil {
		ev.Checks = p.Checks.Results(&check.Target{Pages: pages, Page: page, Meta: meta})
	}
	matched, err := p.Match(pages, meta)
	ev.Matched = matched
	if err != nil {
		ev.MatchError = err.Error()
	}
	ev.Regions, ev.Fields = p.extract(pages, kinds)
	return ev
}

// Extract runs regions and fields only, for callers that already know the
// pattern matches. Checks and Matched are left empty.
func (p *Pattern) Extract(pages []*layout.Page, kinds KindResolver) Evaluation {
	ev := Evaluation{Pattern: p.Name, Checks: []check.Result{}}
	ev.Regions, ev.Fields = p.extract(pages, kinds)
	return ev
}

func (p *Pattern) extract(pages []*layout.Page, kinds KindResolver) (region.Evaluation, []field.Result) {
	regions := region.EvaluateDocument(p.Regions, pages)
	groups := regions.RetainedGroups()

	fields := make([]field.Result, len(p.Fields))
	for i, f := range p.Fields {
		fields[i] = resolveField(f, groups, kinds)
	}
	return regions, fields
}

func resolveField(f field.Field, groups map[string]string, kinds KindResolver) field.Result {
	switch f.Kind {
	case field.KindAttr:
		return f.ResolveAttr(groups)
	default:
		if kinds == nil {
			return f.Render(groups)
		}
		kind, err := kinds.CustomFieldKind(f.Name)
		if err != nil {
			return field.Result{Kind: f.Kind, Name: f.Name, Error: err.Error()}
		}
		return f.Resolve(groups, kind)
	}
}
