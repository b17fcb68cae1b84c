// Package processing applies patterns to paperless documents and writes
// the extracted values back.
package processing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/a3tai/plngx-dissect/internal/check"
	"github.com/a3tai/plngx-dissect/internal/datakind"
	"github.com/a3tai/plngx-dissect/internal/document"
	"github.com/a3tai/plngx-dissect/internal/field"
	"github.com/a3tai/plngx-dissect/internal/paperless"
	"github.com/a3tai/plngx-dissect/internal/pattern"
	"github.com/a3tai/plngx-dissect/internal/storage"
	"github.com/google/uuid"
)

// Options configures a Processor.
type Options struct {
	// RequiredTags and ExcludedTags select the documents a run looks at.
	RequiredTags []string
	ExcludedTags []string
	// AddTags and RemoveTags are applied to every document a pattern
	// was applied to.
	AddTags    []string
	RemoveTags []string
	// DryRun computes and logs updates without sending them.
	DryRun bool
	// ResultsPath receives the report of each run; empty disables it.
	ResultsPath string
}

// Catalog is the paperless metadata the processor reads. Every run, listing
// and evaluation refreshes it first so upstream edits are seen.
type Catalog interface {
	Refresh()
	Snapshot(ctx context.Context) (*paperless.Snapshot, error)
	Documents(ctx context.Context, q paperless.Query) iter.Seq2[paperless.Document, error]
}

// Loader returns parsed documents, resolving names through snap.
type Loader interface {
	Load(ctx context.Context, d *paperless.Document, snap *paperless.Snapshot) (*document.Document, error)
}

// Source fetches single documents.
type Source interface {
	Document(ctx context.Context, id int) (*paperless.Document, error)
}

// Sink receives document updates.
type Sink interface {
	UpdateDocument(ctx context.Context, id int, u *paperless.Update) error
}

// Patterns supplies the patterns to apply.
type Patterns interface {
	LoadAll() ([]*pattern.Pattern, error)
}

// History records persisted updates.
type History interface {
	LogUpdate(ctx context.Context, documentID int, title, details string) (storage.HistoryItem, error)
}

// Lease guards bulk runs.
type Lease interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// Processor runs patterns over the selected documents.
type Processor struct {
	opts     Options
	patterns Patterns
	catalog  Catalog
	loader   Loader
	source   Source
	sink     Sink
	history  History
	lease    Lease
	logger   *slog.Logger
}

// Deps bundles the collaborators of a Processor.
type Deps struct {
	Patterns Patterns
	Catalog  Catalog
	Loader   Loader
	Source   Source
	Sink     Sink
	History  History
	Lease    Lease
	Logger   *slog.Logger
}

// New creates a processor.
func New(opts Options, deps Deps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		opts:     opts,
		patterns: deps.Patterns,
		catalog:  deps.Catalog,
		loader:   deps.Loader,
		source:   deps.Source,
		sink:     deps.Sink,
		history:  deps.History,
		lease:    deps.Lease,
		logger:   logger,
	}
}

// Options returns the configuration the processor was created with.
func (p *Processor) Options() Options {
	return p.opts
}

// Run processes every selected document once. Only one run may be in
// progress; a concurrent call fails with storage.ErrAlreadyRunning.
func (p *Processor) Run(ctx context.Context) (*Results, error) {
	release, err := p.lease.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Error("processing.lease.release_error", "error", err)
		}
	}()

	rid := uuid.NewString()
	start := time.Now()
	p.logger.Info("processing.run.start", "req_id", rid, "dry_run", p.opts.DryRun)

	patterns, err := p.patterns.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	tags := p.tagChanges(snap)

	results := NewResults()
	q := paperless.Query{RequiredTags: p.opts.RequiredTags, ExcludedTags: p.opts.ExcludedTags}
	for pd, err := range p.catalog.Documents(ctx, q) {
		if err != nil {
			return results, fmt.Errorf("list documents: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		p.processDocument(ctx, &pd, patterns, snap, tags, results)
	}

	p.logger.Info("processing.run.ok",
		"req_id", rid,
		"matched", len(results.Matched),
		"unmatched", len(results.Unmatched),
		"errors", len(results.Errors),
		"updated", len(results.Updated),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if p.opts.ResultsPath != "" {
		if err := results.Save(p.opts.ResultsPath); err != nil {
			p.logger.Error("processing.results.save_error", "path", p.opts.ResultsPath, "error", err)
		}
	}
	return results, nil
}

// snapshot reloads the catalog and returns the view one session works with.
func (p *Processor) snapshot(ctx context.Context) (*paperless.Snapshot, error) {
	p.catalog.Refresh()
	return p.catalog.Snapshot(ctx)
}

type tagChanges struct {
	add, remove []int
}

// tagChanges resolves the configured tag names. Any problem disables tag
// changes for the run rather than applying half of them.
func (p *Processor) tagChanges(snap *paperless.Snapshot) tagChanges {
	for _, name := range p.opts.AddTags {
		if slices.Contains(p.opts.RemoveTags, name) {
			p.logger.Warn("processing.tags.conflict", "tag", name)
			return tagChanges{}
		}
	}
	add, err := snap.Tags.IDs("tag", p.opts.AddTags)
	if err != nil {
		p.logger.Warn("processing.tags.unknown", "error", err)
		return tagChanges{}
	}
	remove, err := snap.Tags.IDs("tag", p.opts.RemoveTags)
	if err != nil {
		p.logger.Warn("processing.tags.unknown", "error", err)
		return tagChanges{}
	}
	return tagChanges{add: add, remove: remove}
}

func (p *Processor) processDocument(ctx context.Context, pd *paperless.Document, patterns []*pattern.Pattern,
	snap *paperless.Snapshot, tags tagChanges, results *Results) {
	ref := ProcessedDocument{ID: pd.ID, Title: pd.Title}
	log := p.logger.With("document_id", pd.ID, "title", pd.Title)

	doc, err := p.loader.Load(ctx, pd, snap)
	if err != nil {
		log.Error("processing.document.load_error", "error", err)
		results.addError(ref, "", err)
		return
	}
	if !doc.ParseStatus.OK() {
		log.Warn("processing.document.parse_error", "error", doc.ParseStatus.Error)
		results.addError(ref, "", errors.New(doc.ParseStatus.Error))
		return
	}

	meta := snap.Metadata(pd)
	update := &paperless.Update{}
	docTags := slices.Clone(pd.Tags)
	matched := false

	for _, pat := range patterns {
		ok, err := pat.Match(doc.Pages, meta)
		if err != nil {
			log.Warn("processing.pattern.match_error", "pattern", pat.Name, "error", err)
			results.addError(ref, pat.Name, err)
			continue
		}
		if !ok {
			continue
		}
		matched = true
		results.addMatch(pd.ID, pat.Name)

		ev := pat.Extract(doc.Pages, snap)
		if err := ev.FieldError(); err != nil {
			log.Warn("processing.pattern.field_error", "pattern", pat.Name, "error", err)
			results.addError(ref, pat.Name, err)
			continue
		}

		pending := *update
		pending.CustomFields = slices.Clone(update.CustomFields)
		if err := applyFields(&pending, pd, snap, ev.Fields); err != nil {
			log.Warn("processing.pattern.field_error", "pattern", pat.Name, "error", err)
			results.addError(ref, pat.Name, err)
			continue
		}
		*update = pending
		docTags = applyTags(docTags, tags)
	}

	if !matched {
		results.addUnmatched(ref)
		return
	}
	if !sameSet(docTags, pd.Tags) {
		update.Tags = docTags
	}
	if update.Empty() {
		log.Debug("processing.document.unchanged")
		return
	}

	if p.opts.DryRun {
		log.Info("processing.document.dry_run", "update", update.String())
		return
	}
	if err := p.sink.UpdateDocument(ctx, pd.ID, update); err != nil {
		log.Error("processing.document.update_error", "error", err)
		results.addError(ref, "", err)
		return
	}
	results.addUpdated(pd.ID)
	log.Info("processing.document.updated", "update", update.String())

	if _, err := p.history.LogUpdate(ctx, pd.ID, pd.Title, update.String()); err != nil {
		log.Error("processing.history.write_error", "error", err)
	}
}

// applyFields adds to u every field whose value differs from what pd holds.
func applyFields(u *paperless.Update, pd *paperless.Document, snap *paperless.Snapshot, fields []field.Result) error {
	for _, f := range fields {
		if f.Converted == nil {
			continue
		}
		switch f.Kind {
		case field.KindAttr:
			if err := applyAttribute(u, pd, f); err != nil {
				return err
			}
		default:
			def, ok := snap.CustomFields.ByName(f.Name)
			if !ok {
				return fmt.Errorf("custom field %q: %w", f.Name, paperless.ErrNotFound)
			}
			if err := applyCustomField(u, pd, def, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyCustomField(u *paperless.Update, pd *paperless.Document, def paperless.CustomField, f field.Result) error {
	if old, ok := pd.CustomField(def.ID); ok {
		// An old value that does not convert is always replaced.
		if prev, err := datakind.FromWire(def.DataType, old.Value); err == nil && datakind.Equal(def.DataType, prev, f.Converted) {
			return nil
		}
	}

	wire, err := datakind.ToWire(def.DataType, f.Converted)
	if err != nil {
		return fmt.Errorf("field %q: %w", f.Name, err)
	}
	if u.CustomFields == nil {
		u.CustomFields = customFieldsOf(pd)
	}
	for i := range u.CustomFields {
		if u.CustomFields[i].Field == def.ID {
			u.CustomFields[i].Value = wire
			return nil
		}
	}
	u.CustomFields = append(u.CustomFields, paperless.CustomFieldValue{Field: def.ID, Value: wire})
	return nil
}

// customFieldsOf copies the document's current values; paperless replaces
// the whole list on update.
func customFieldsOf(pd *paperless.Document) []paperless.CustomFieldValue {
	out := make([]paperless.CustomFieldValue, len(pd.CustomFields))
	copy(out, pd.CustomFields)
	return out
}

func applyAttribute(u *paperless.Update, pd *paperless.Document, f field.Result) error {
	switch f.Name {
	case field.AttrTitle:
		s, ok := f.Converted.(string)
		if !ok {
			return fmt.Errorf("attribute %q: unexpected %T", f.Name, f.Converted)
		}
		if s != pd.Title {
			u.Title = &s
		}
	case field.AttrCreated:
		d, ok := f.Converted.(datakind.CalendarDate)
		if !ok {
			return fmt.Errorf("attribute %q: unexpected %T", f.Name, f.Converted)
		}
		if prev, err := pd.CreatedDate(); err != nil || prev != d {
			s := d.String()
			u.Created = &s
		}
	case field.AttrArchiveSerialNumber:
		n, ok := f.Converted.(int64)
		if !ok {
			return fmt.Errorf("attribute %q: unexpected %T", f.Name, f.Converted)
		}
		if pd.ArchiveSerialNumber == nil || *pd.ArchiveSerialNumber != n {
			u.ArchiveSerialNumber = &n
		}
	default:
		return fmt.Errorf("unknown attribute %q", f.Name)
	}
	return nil
}

func applyTags(tags []int, c tagChanges) []int {
	tags = slices.DeleteFunc(tags, func(id int) bool { return slices.Contains(c.remove, id) })
	for _, id := range c.add {
		if !slices.Contains(tags, id) {
			tags = append(tags, id)
		}
	}
	return tags
}

func sameSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}

// DocumentSummary describes a document a pattern matches.
type DocumentSummary struct {
	ID           int                   `json:"id"`
	Title        string                `json:"title"`
	PaperlessURL string                `json:"paperless_url"`
	Added        time.Time             `json:"datetime_added"`
	Created      datakind.CalendarDate `json:"date_created"`
}

// MatchingDocuments lists the selected documents pat matches. Top-level
// correspondent and document type checks narrow the paperless query.
func (p *Processor) MatchingDocuments(ctx context.Context, pat *pattern.Pattern) iter.Seq2[DocumentSummary, error] {
	return func(yield func(DocumentSummary, error) bool) {
		snap, err := p.snapshot(ctx)
		if err != nil {
			yield(DocumentSummary{}, err)
			return
		}

		correspondents, types := check.NarrowingNames(pat.Checks)
		q := paperless.Query{
			RequiredTags:   p.opts.RequiredTags,
			ExcludedTags:   p.opts.ExcludedTags,
			Correspondents: correspondents,
			DocumentTypes:  types,
		}
		for pd, err := range p.catalog.Documents(ctx, q) {
			if err != nil {
				yield(DocumentSummary{}, err)
				return
			}
			doc, err := p.loader.Load(ctx, &pd, snap)
			if err != nil {
				if !yield(DocumentSummary{}, err) {
					return
				}
				continue
			}
			if !doc.ParseStatus.OK() || !pat.Matches(doc.Pages, snap.Metadata(&pd)) {
				continue
			}
			if !yield(summarize(doc), nil) {
				return
			}
		}
	}
}

func summarize(doc *document.Document) DocumentSummary {
	return DocumentSummary{ID: doc.ID, Title: doc.Title, PaperlessURL: doc.PaperlessURL, Added: doc.Added, Created: doc.Created}
}

// DocumentEvaluation is the outcome of one pattern on one document.
type DocumentEvaluation struct {
	Document   DocumentSummary    `json:"document"`
	NumPages   int                `json:"num_pages"`
	ParseError string             `json:"parse_error,omitempty"`
	Evaluation pattern.Evaluation `json:"evaluation"`
}

// Evaluate applies pat to document id without changing anything. Problems
// inside the pattern are reported inline; only failures to fetch the
// document or its metadata are returned as errors.
func (p *Processor) Evaluate(ctx context.Context, pat *pattern.Pattern, id int) (*DocumentEvaluation, error) {
	if p.source == nil {
		return nil, errors.New("no document source configured")
	}
	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	pd, err := p.source.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := p.loader.Load(ctx, pd, snap)
	if err != nil {
		return nil, err
	}

	out := &DocumentEvaluation{
		Document:   summarize(doc),
		NumPages:   doc.NumPages(),
		ParseError: doc.ParseStatus.Error,
	}
	if !doc.ParseStatus.OK() {
		out.Evaluation = pattern.Evaluation{Pattern: pat.Name, MatchError: doc.ParseStatus.Error}
		return out, nil
	}
	out.Evaluation = pat.Evaluate(doc.Pages, snap.Metadata(pd), snap)
	return out, nil
}
