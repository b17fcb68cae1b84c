// Package document turns paperless documents into parsed page layouts.
package document

import (
	"time"

	"github.com/a3tai/plngx-dissect/internal/check"
	"github.com/a3tai/plngx-dissect/internal/datakind"
	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/a3tai/plngx-dissect/internal/region"
)

// ParseStatus records when a document was parsed and whether parsing failed.
type ParseStatus struct {
	ParsedAt time.Time `json:"datetime_parsed"`
	Error    string    `json:"error,omitempty"`
}

// OK reports whether parsing succeeded.
func (s ParseStatus) OK() bool {
	return s.Error == ""
}

// Document is a paperless document together with its parsed pages.
// Correspondent and DocumentType are names, nil when unset.
type Document struct {
	ID            int                   `json:"id"`
	Title         string                `json:"title"`
	Correspondent *string               `json:"correspondent"`
	DocumentType  *string               `json:"document_type"`
	PaperlessURL  string                `json:"paperless_url"`
	Added         time.Time             `json:"datetime_added"`
	Created       datakind.CalendarDate `json:"date_created"`
	ParseStatus   ParseStatus           `json:"parse_status"`
	Pages         []*layout.Page        `json:"pages"`
}

// NumPages returns the number of parsed pages.
func (d *Document) NumPages() int {
	return len(d.Pages)
}

// EvaluateRegions evaluates every region on every page and marks the
// selected result of each.
func (d *Document) EvaluateRegions(regions []region.Region) region.Evaluation {
	return region.EvaluateDocument(regions, d.Pages)
}

// Target builds a check target over the document's pages.
func (d *Document) Target(page *layout.Page, meta check.Metadata) *check.Target {
	return &check.Target{Pages: d.Pages, Page: page, Meta: meta}
}
