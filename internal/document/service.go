package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/a3tai/plngx-dissect/internal/cache"
	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/a3tai/plngx-dissect/internal/paperless"
	"github.com/google/uuid"
)

// Source is the part of the paperless client the service reads from.
type Source interface {
	Document(ctx context.Context, id int) (*paperless.Document, error)
	Download(ctx context.Context, id int) ([]byte, error)
	DocumentURL(id int) string
}

// Service fetches, parses and caches documents.
type Service struct {
	src      Source
	snapshot func(context.Context) (*paperless.Snapshot, error)
	store    cache.Store
	parser   *Parser
	logger   *slog.Logger
	now      func() time.Time
}

// NewService reads documents through cat and caches parsed results in store.
func NewService(cat *paperless.Catalog, store cache.Store, logger *slog.Logger) *Service {
	return newService(cat.Client(), cat.Snapshot, store, logger)
}

func newService(src Source, snapshot func(context.Context) (*paperless.Snapshot, error), store cache.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = cache.NewMemory()
	}
	return &Service{
		src:      src,
		snapshot: snapshot,
		store:    store,
		parser:   NewParser(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// CacheKey identifies a parsed document. A change on the paperless side
// moves the modification time and with it the key.
func CacheKey(d *paperless.Document) string {
	return fmt.Sprintf("parsed_document:%d:%s", d.ID, d.Modified.UTC().Format(time.RFC3339Nano))
}

// Get fetches document id from paperless and returns it parsed, with names
// resolved through the current catalog snapshot.
func (s *Service) Get(ctx context.Context, id int) (*Document, error) {
	pd, err := s.src.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, pd, snap)
}

// Load returns pd parsed, from the cache when possible. Correspondent and
// document type names are resolved through snap. A PDF that cannot be
// parsed still yields a Document, with ParseStatus.Error set.
func (s *Service) Load(ctx context.Context, pd *paperless.Document, snap *paperless.Snapshot) (*Document, error) {
	key := CacheKey(pd)
	if d, ok := s.cached(ctx, key); ok {
		return d, nil
	}

	rid := uuid.NewString()
	start := s.now()
	s.logger.Info("document.parse.start", "req_id", rid, "document_id", pd.ID, "title", pd.Title)

	d, err := s.describe(pd, snap)
	if err != nil {
		return nil, err
	}

	data, err := s.src.Download(ctx, pd.ID)
	if err != nil {
		s.logger.Error("document.download.error", "req_id", rid, "document_id", pd.ID, "error", err)
		return nil, err
	}

	pages, err := s.parser.Parse(data)
	d.ParseStatus.ParsedAt = s.now()
	if err != nil {
		d.ParseStatus.Error = err.Error()
		s.logger.Error("document.parse.error", "req_id", rid, "document_id", pd.ID, "title", pd.Title, "error", err)
	} else {
		d.Pages = pages
		s.logger.Info("document.parse.ok",
			"req_id", rid,
			"document_id", pd.ID,
			"pages", len(pages),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}

	s.save(ctx, key, d)
	return d, nil
}

func (s *Service) describe(pd *paperless.Document, snap *paperless.Snapshot) (*Document, error) {
	created, err := pd.CreatedDate()
	if err != nil {
		return nil, err
	}
	d := &Document{
		ID:           pd.ID,
		Title:        pd.Title,
		PaperlessURL: s.src.DocumentURL(pd.ID),
		Added:        pd.Added,
		Created:      created,
		Pages:        []*layout.Page{},
	}
	if pd.Correspondent != nil {
		c, ok := snap.Correspondents.ByID(*pd.Correspondent)
		if !ok {
			return nil, fmt.Errorf("correspondent %d: %w", *pd.Correspondent, paperless.ErrNotFound)
		}
		d.Correspondent = &c.Name
	}
	if pd.DocumentType != nil {
		t, ok := snap.DocumentTypes.ByID(*pd.DocumentType)
		if !ok {
			return nil, fmt.Errorf("document type %d: %w", *pd.DocumentType, paperless.ErrNotFound)
		}
		d.DocumentType = &t.Name
	}
	return d, nil
}

func (s *Service) cached(ctx context.Context, key string) (*Document, bool) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("document.cache.read_error", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	d, err := Decode(raw)
	if err != nil {
		s.logger.Warn("document.cache.decode_error", "key", key, "error", err)
		return nil, false
	}
	return d, true
}

func (s *Service) save(ctx context.Context, key string, d *Document) {
	raw, err := Encode(d)
	if err == nil {
		err = s.store.Set(ctx, key, raw)
	}
	if err != nil {
		s.logger.Warn("document.cache.write_error", "key", key, "error", err)
	}
}

// Encode serializes d for the cache.
func Encode(d *Document) ([]byte, error) {
	return json.Marshal(d)
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d.Pages == nil {
		d.Pages = []*layout.Page{}
	}
	return &d, nil
}
