package pattern

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrPatternExists   = errors.New("pattern already exists")
	ErrPatternNotFound = errors.New("pattern not found")
)

const fileExt = ".yml"

// Summary is a pattern list entry.
type Summary struct {
	Name string `json:"name"`
}

// Store keeps one YAML file per pattern in a directory.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore opens dir, creating it when missing.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create patterns dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the directory holding pattern files.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name)+fileExt)
}

// List returns the names of all stored patterns, sorted.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patterns, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(patterns))
	for i, p := range patterns {
		out[i] = Summary{Name: p.Name}
	}
	return out, nil
}

// LoadAll reads every pattern, sorted by name. Files that fail to decode are
// logged and skipped.
func (s *Store) LoadAll() ([]*Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAll()
}

func (s *Store) loadAll() ([]*Pattern, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read patterns dir: %w", err)
	}

	var patterns []*Pattern
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		p, err := readFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable pattern", "file", e.Name(), "error", err)
			continue
		}
		patterns = append(patterns, p)
	}
	slices.SortFunc(patterns, func(a, b *Pattern) int { return strings.Compare(a.Name, b.Name) })
	return patterns, nil
}

// Get loads one pattern.
func (s *Store) Get(name string) (*Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(name)
}

func (s *Store) get(name string) (*Pattern, error) {
	p, err := readFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrPatternNotFound, name)
	}
	return p, err
}

// Create stores a new pattern and fails if the name is taken.
func (s *Store) Create(p *Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(p.Name) {
		return fmt.Errorf("%w: %q", ErrPatternExists, p.Name)
	}
	return s.write(p)
}

// Put creates or replaces the pattern stored under name.
func (s *Store) Put(name string, p *Pattern) error {
	if p.Name == "" {
		p.Name = name
	}
	if p.Name != name {
		return fmt.Errorf("%w: name %q does not match %q", ErrInvalidPattern, p.Name, name)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(p)
}

// Delete removes a pattern.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrPatternNotFound, name)
	}
	return err
}

// Rename moves a pattern to a new name. It fails if the new name exists.
// The new file is written before the old one is removed, so an interrupted
// rename leaves the old pattern in place.
func (s *Store) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldName == newName {
		_, err := s.get(oldName)
		return err
	}
	p, err := s.get(oldName)
	if err != nil {
		return err
	}
	if s.exists(newName) {
		return fmt.Errorf("%w: %q", ErrPatternExists, newName)
	}

	p.Name = newName
	if err := s.write(p); err != nil {
		return err
	}
	if err := os.Remove(s.path(oldName)); err != nil {
		return fmt.Errorf("remove %q after rename: %w", oldName, err)
	}
	s.logger.Info("pattern renamed", "from", oldName, "to", newName)
	return nil
}

func (s *Store) exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *Store) write(p *Pattern) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode pattern %q: %w", p.Name, err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeAtomic(s.path(p.Name), buf.Bytes())
}

func readFile(path string) (*Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Pattern
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if p.Name == "" {
		if name, err := url.PathUnescape(strings.TrimSuffix(filepath.Base(path), fileExt)); err == nil {
			p.Name = name
		}
	}
	return &p, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pattern-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
