package paperless

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/a3tai/plngx-dissect/internal/datakind"
)

// Index maps elements of one kind by id and by name.
type Index[T element] struct {
	byID   map[int]T
	byName map[string]T
}

// NewIndex indexes items by id and name.
func NewIndex[T element](items []T) *Index[T] {
	ix := &Index[T]{byID: make(map[int]T, len(items)), byName: make(map[string]T, len(items))}
	for _, item := range items {
		ix.byID[item.ElementID()] = item
		ix.byName[item.ElementName()] = item
	}
	return ix
}

func (ix *Index[T]) ByID(id int) (T, bool) {
	v, ok := ix.byID[id]
	return v, ok
}

func (ix *Index[T]) ByName(name string) (T, bool) {
	v, ok := ix.byName[name]
	return v, ok
}

// All returns the elements sorted by name.
func (ix *Index[T]) All() []T {
	out := make([]T, 0, len(ix.byID))
	for _, v := range ix.byID {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(a.ElementName(), b.ElementName()) })
	return out
}

// IDs resolves names to ids. Unknown names are an error.
func (ix *Index[T]) IDs(kind string, names []string) ([]int, error) {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		v, ok := ix.byName[name]
		if !ok {
			return nil, fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
		}
		ids = append(ids, v.ElementID())
	}
	return ids, nil
}

// section is one lazily loaded map. A nil index means not loaded yet.
type section[T element] struct {
	mu    sync.Mutex
	index *Index[T]
	load  func(context.Context) ([]T, error)
}

func (s *section[T]) get(ctx context.Context) (*Index[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return s.index, nil
	}
	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.index = NewIndex(items)
	return s.index, nil
}

func (s *section[T]) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = nil
}

func (s *section[T]) loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index != nil
}

// Catalog is a read-through cache of paperless metadata. Each map is fetched
// on first use and kept until Refresh. Snapshots already handed out are not
// affected by a refresh.
type Catalog struct {
	client         *Client
	tags           section[Tag]
	correspondents section[Correspondent]
	documentTypes  section[DocumentType]
	storagePaths   section[StoragePath]
	customFields   section[CustomField]
}

// NewCatalog creates an empty catalog backed by c.
func NewCatalog(c *Client) *Catalog {
	cat := &Catalog{client: c}
	cat.tags.load = c.Tags
	cat.correspondents.load = c.Correspondents
	cat.documentTypes.load = c.DocumentTypes
	cat.storagePaths.load = c.StoragePaths
	cat.customFields.load = c.CustomFields
	return cat
}

// Client returns the underlying client.
func (cat *Catalog) Client() *Client {
	return cat.client
}

func (cat *Catalog) Tags(ctx context.Context) (*Index[Tag], error) {
	return cat.tags.get(ctx)
}

func (cat *Catalog) Correspondents(ctx context.Context) (*Index[Correspondent], error) {
	return cat.correspondents.get(ctx)
}

func (cat *Catalog) DocumentTypes(ctx context.Context) (*Index[DocumentType], error) {
	return cat.documentTypes.get(ctx)
}

func (cat *Catalog) StoragePaths(ctx context.Context) (*Index[StoragePath], error) {
	return cat.storagePaths.get(ctx)
}

func (cat *Catalog) CustomFields(ctx context.Context) (*Index[CustomField], error) {
	return cat.customFields.get(ctx)
}

// Refresh drops every loaded map so the next read fetches it again.
func (cat *Catalog) Refresh() {
	cat.tags.reset()
	cat.correspondents.reset()
	cat.documentTypes.reset()
	cat.storagePaths.reset()
	cat.customFields.reset()
}

// Loaded reports which maps have been fetched, keyed by endpoint name.
func (cat *Catalog) Loaded() map[string]bool {
	return map[string]bool{
		"tags":           cat.tags.loaded(),
		"correspondents": cat.correspondents.loaded(),
		"document_types": cat.documentTypes.loaded(),
		"storage_paths":  cat.storagePaths.loaded(),
		"custom_fields":  cat.customFields.loaded(),
	}
}

// Snapshot loads every map and returns them as one immutable value.
func (cat *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	if s.Tags, err = cat.Tags(ctx); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	if s.Correspondents, err = cat.Correspondents(ctx); err != nil {
		return nil, fmt.Errorf("load correspondents: %w", err)
	}
	if s.DocumentTypes, err = cat.DocumentTypes(ctx); err != nil {
		return nil, fmt.Errorf("load document types: %w", err)
	}
	if s.StoragePaths, err = cat.StoragePaths(ctx); err != nil {
		return nil, fmt.Errorf("load storage paths: %w", err)
	}
	if s.CustomFields, err = cat.CustomFields(ctx); err != nil {
		return nil, fmt.Errorf("load custom fields: %w", err)
	}
	return &s, nil
}

// Query selects documents by names.
type Query struct {
	RequiredTags []string
	ExcludedTags []string
	// Correspondents and DocumentTypes narrow the result when non-empty.
	// Unknown names are ignored; if none are known nothing can match.
	Correspondents []string
	DocumentTypes  []string
}

// Documents resolves q against the catalog and iterates over the matching
// documents. An unknown tag name is reported as the first element's error.
func (cat *Catalog) Documents(ctx context.Context, q Query) iter.Seq2[Document, error] {
	filter, empty, err := cat.filter(ctx, q)
	if err != nil {
		return func(yield func(Document, error) bool) {
			yield(Document{}, err)
		}
	}
	if empty {
		return func(func(Document, error) bool) {}
	}
	return cat.client.Documents(ctx, filter)
}

func (cat *Catalog) filter(ctx context.Context, q Query) (DocumentFilter, bool, error) {
	var f DocumentFilter

	tags, err := cat.Tags(ctx)
	if err != nil {
		return f, false, err
	}
	if f.TagsAll, err = tags.IDs("tag", q.RequiredTags); err != nil {
		return f, false, err
	}
	if f.TagsNone, err = tags.IDs("tag", q.ExcludedTags); err != nil {
		return f, false, err
	}

	if len(q.Correspondents) > 0 {
		corr, err := cat.Correspondents(ctx)
		if err != nil {
			return f, false, err
		}
		f.CorrespondentsIn = knownIDs(corr, q.Correspondents)
		if len(f.CorrespondentsIn) == 0 {
			return f, true, nil
		}
	}
	if len(q.DocumentTypes) > 0 {
		types, err := cat.DocumentTypes(ctx)
		if err != nil {
			return f, false, err
		}
		f.DocumentTypesIn = knownIDs(types, q.DocumentTypes)
		if len(f.DocumentTypesIn) == 0 {
			return f, true, nil
		}
	}
	return f, false, nil
}

func knownIDs[T element](ix *Index[T], names []string) []int {
	var ids []int
	for _, name := range names {
		if v, ok := ix.ByName(name); ok {
			ids = append(ids, v.ElementID())
		}
	}
	return ids
}

// Snapshot is a fully loaded, read-only view of the catalog.
type Snapshot struct {
	Tags           *Index[Tag]
	Correspondents *Index[Correspondent]
	DocumentTypes  *Index[DocumentType]
	StoragePaths   *Index[StoragePath]
	CustomFields   *Index[CustomField]
}

// CustomFieldKind returns the data kind of the named custom field.
func (s *Snapshot) CustomFieldKind(name string) (datakind.Kind, error) {
	f, ok := s.CustomFields.ByName(name)
	if !ok {
		return "", fmt.Errorf("custom field %q: %w", name, ErrNotFound)
	}
	return datakind.ParseKind(string(f.DataType))
}

// Metadata returns the check-facing view of d.
func (s *Snapshot) Metadata(d *Document) *DocumentMetadata {
	created, err := d.CreatedDate()
	return &DocumentMetadata{snap: s, doc: d, created: created, createdErr: err}
}

// DocumentMetadata resolves a document's ids through a Snapshot.
type DocumentMetadata struct {
	snap       *Snapshot
	doc        *Document
	created    datakind.CalendarDate
	createdErr error
}

func (m *DocumentMetadata) Title() string {
	return m.doc.Title
}

func (m *DocumentMetadata) Created() (datakind.CalendarDate, error) {
	return m.created, m.createdErr
}

func (m *DocumentMetadata) Correspondent() (string, error) {
	return lookupName(m.snap.Correspondents, "correspondent", m.doc.Correspondent)
}

func (m *DocumentMetadata) DocumentType() (string, error) {
	return lookupName(m.snap.DocumentTypes, "document type", m.doc.DocumentType)
}

func (m *DocumentMetadata) StoragePath() (string, error) {
	return lookupName(m.snap.StoragePaths, "storage path", m.doc.StoragePath)
}

func (m *DocumentMetadata) TagNames() ([]string, error) {
	names := make([]string, 0, len(m.doc.Tags))
	for _, id := range m.doc.Tags {
		t, ok := m.snap.Tags.ByID(id)
		if !ok {
			return nil, fmt.Errorf("tag %d: %w", id, ErrNotFound)
		}
		names = append(names, t.Name)
	}
	return names, nil
}

func lookupName[T element](ix *Index[T], kind string, id *int) (string, error) {
	if id == nil {
		return "", nil
	}
	v, ok := ix.ByID(*id)
	if !ok {
		return "", fmt.Errorf("%s %d: %w", kind, *id, ErrNotFound)
	}
	return v.ElementName(), nil
}
