// Package check implements the boolean check trees patterns use to decide
// whether they apply to a document.
package check

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/a3tai/plngx-dissect/internal/cache"
	"github.com/a3tai/plngx-dissect/internal/datakind"
	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/a3tai/plngx-dissect/internal/region"
)

// ErrNoMetadata is returned by metadata checks evaluated without metadata.
var ErrNoMetadata = errors.New("no document metadata available")

// Type is the serialised discriminator of a check.
type Type string

const (
	TypeNumPages      Type = "num_pages"
	TypeRegion        Type = "region"
	TypeTitle         Type = "title"
	TypeCorrespondent Type = "correspondent"
	TypeDocumentType  Type = "document_type"
	TypeStoragePath   Type = "storage_path"
	TypeTags          Type = "tags"
	TypeDateCreated   Type = "date_created"
	TypeAnd           Type = "and"
	TypeOr            Type = "or"
	TypeNot           Type = "not"
)

// Metadata is the external view of a document that checks compare against.
// Lookups fail when the document refers to an element the catalog does not
// know.
type Metadata interface {
	Title() string
	// Created fails when paperless sent a date that does not parse.
	Created() (datakind.CalendarDate, error)
	// Correspondent returns "" when the document has none.
	Correspondent() (string, error)
	DocumentType() (string, error)
	StoragePath() (string, error)
	TagNames() ([]string, error)
}

// Target is what a check is evaluated against.
type Target struct {
	Pages []*layout.Page
	// Page is the page selected by the pattern, nil when out of range.
	Page *layout.Page
	Meta Metadata
}

func (t *Target) meta() (Metadata, error) {
	if t.Meta == nil {
		return nil, ErrNoMetadata
	}
	return t.Meta, nil
}

// Check is one node of a check tree.
type Check interface {
	Type() Type
	Evaluate(t *Target) (bool, error)
	check()
}

// NumPages matches documents with exactly NumPages pages.
type NumPages struct {
	NumPages int `json:"num_pages" yaml:"num_pages"`
}

// Region matches when the region's expression matches anywhere inside its
// rectangle on the page selected by the pattern. The region's own page
// selector is not consulted.
type Region struct {
	region.Region `yaml:",inline"`
}

// Title matches the document title against a regular expression.
type Title struct {
	Regex string `json:"regex" yaml:"regex"`
}

type Correspondent struct {
	Name string `json:"name" yaml:"name"`
}

type DocumentType struct {
	Name string `json:"name" yaml:"name"`
}

type StoragePath struct {
	Name string `json:"name" yaml:"name"`
}

// Tags requires every tag in Includes and none in Excludes.
type Tags struct {
	Includes []string `json:"includes" yaml:"includes"`
	Excludes []string `json:"excludes" yaml:"excludes"`
}

// DateCreated bounds the creation date. Before and After are exclusive.
type DateCreated struct {
	Before *datakind.CalendarDate `json:"before,omitempty" yaml:"before,omitempty"`
	After  *datakind.CalendarDate `json:"after,omitempty" yaml:"after,omitempty"`
	Year   *int                   `json:"year,omitempty" yaml:"year,omitempty"`
}

type And struct {
	Checks List `json:"checks" yaml:"checks"`
}

type Or struct {
	Checks List `json:"checks" yaml:"checks"`
}

type Not struct {
	Check Check `json:"check" yaml:"check"`
}

func (*NumPages) Type() Type      { return TypeNumPages }
func (*Region) Type() Type        { return TypeRegion }
func (*Title) Type() Type         { return TypeTitle }
func (*Correspondent) Type() Type { return TypeCorrespondent }
func (*DocumentType) Type() Type  { return TypeDocumentType }
func (*StoragePath) Type() Type   { return TypeStoragePath }
func (*Tags) Type() Type          { return TypeTags }
func (*DateCreated) Type() Type   { return TypeDateCreated }
func (*And) Type() Type           { return TypeAnd }
func (*Or) Type() Type            { return TypeOr }
func (*Not) Type() Type           { return TypeNot }

func (*NumPages) check()      {}
func (*Region) check()        {}
func (*Title) check()         {}
func (*Correspondent) check() {}
func (*DocumentType) check()  {}
func (*StoragePath) check()   {}
func (*Tags) check()          {}
func (*DateCreated) check()   {}
func (*And) check()           {}
func (*Or) check()            {}
func (*Not) check()           {}

func (c *NumPages) Evaluate(t *Target) (bool, error) {
	return len(t.Pages) == c.NumPages, nil
}

func (c *Region) Evaluate(t *Target) (bool, error) {
	if t.Page == nil {
		return false, nil
	}
	return c.MatchesOnPage(t.Page)
}

var titlePatterns = cache.NewLRU[string, *regexp.Regexp](256)

func (c *Title) Evaluate(t *Target) (bool, error) {
	m, err := t.meta()
	if err != nil {
		return false, err
	}
	re, err := titlePatterns.GetOrCompute(c.Regex, func() (*regexp.Regexp, error) {
		return regexp.Compile(c.Regex)
	})
	if err != nil {
		return false, fmt.Errorf("title regex: %w", err)
	}
	return re.MatchString(m.Title()), nil
}

func (c *Correspondent) Evaluate(t *Target) (bool, error) {
	return nameEquals(t, Metadata.Correspondent, c.Name)
}

func (c *DocumentType) Evaluate(t *Target) (bool, error) {
	return nameEquals(t, Metadata.DocumentType, c.Name)
}

func (c *StoragePath) Evaluate(t *Target) (bool, error) {
	return nameEquals(t, Metadata.StoragePath, c.Name)
}

func nameEquals(t *Target, lookup func(Metadata) (string, error), want string) (bool, error) {
	m, err := t.meta()
	if err != nil {
		return false, err
	}
	got, err := lookup(m)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

func (c *Tags) Evaluate(t *Target) (bool, error) {
	m, err := t.meta()
	if err != nil {
		return false, err
	}
	names, err := m.TagNames()
	if err != nil {
		return false, err
	}
	for _, inc := range c.Includes {
		if !slices.Contains(names, inc) {
			return false, nil
		}
	}
	for _, exc := range c.Excludes {
		if slices.Contains(names, exc) {
			return false, nil
		}
	}
	return true, nil
}

func (c *DateCreated) Evaluate(t *Target) (bool, error) {
	m, err := t.meta()
	if err != nil {
		return false, err
	}
	created, err := m.Created()
	if err != nil {
		return false, err
	}
	if c.Before != nil && !created.Before(*c.Before) {
		return false, nil
	}
	if c.After != nil && !created.After(*c.After) {
		return false, nil
	}
	if c.Year != nil && created.Year != *c.Year {
		return false, nil
	}
	return true, nil
}

func (c *And) Evaluate(t *Target) (bool, error) {
	return c.Checks.Evaluate(t)
}

func (c *Or) Evaluate(t *Target) (bool, error) {
	for _, child := range c.Checks {
		ok, err := child.Evaluate(t)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *Not) Evaluate(t *Target) (bool, error) {
	if c.Check == nil {
		return false, errors.New("not check without child")
	}
	ok, err := c.Check.Evaluate(t)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
