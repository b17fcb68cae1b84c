package processing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ProcessedDocument identifies a document in a run report.
type ProcessedDocument struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// ProcessingError is one failure recorded during a run. PatternName is
// empty for failures that concern the whole document.
type ProcessingError struct {
	Document    ProcessedDocument `json:"document"`
	PatternName string            `json:"pattern_name"`
	Error       string            `json:"error"`
}

// Results is the report of one bulk run.
type Results struct {
	mu        sync.Mutex
	Errors    []ProcessingError   `json:"errors"`
	Matched   map[int][]string    `json:"matched"`
	Unmatched []ProcessedDocument `json:"unmatched"`
	Updated   []int               `json:"updated"`
}

// NewResults returns an empty report.
func NewResults() *Results {
	return &Results{
		Errors:    []ProcessingError{},
		Matched:   map[int][]string{},
		Unmatched: []ProcessedDocument{},
		Updated:   []int{},
	}
}

func (r *Results) addError(doc ProcessedDocument, pattern string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, ProcessingError{Document: doc, PatternName: pattern, Error: err.Error()})
}

func (r *Results) addMatch(id int, pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Matched[id] = append(r.Matched[id], pattern)
}

func (r *Results) addUnmatched(doc ProcessedDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unmatched = append(r.Unmatched, doc)
}

func (r *Results) addUpdated(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updated = append(r.Updated, id)
}

// Save writes the report as JSON, replacing path atomically.
func (r *Results) Save(path string) error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadResults reads a report written by Save.
func LoadResults(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewResults()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return r, nil
}
