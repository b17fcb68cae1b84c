package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/plngx-dissect/internal/check"
	"github.com/a3tai/plngx-dissect/internal/config"
	"github.com/a3tai/plngx-dissect/internal/field"
	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/a3tai/plngx-dissect/internal/pattern"
	"github.com/a3tai/plngx-dissect/internal/processing"
	"github.com/a3tai/plngx-dissect/internal/region"
	"github.com/a3tai/plngx-dissect/internal/storage"
)

type fakeEngine struct {
	opts      processing.Options
	results   *processing.Results
	runErr    error
	evaluated []int
	matches   []processing.DocumentSummary
	matchErr  error
}

func (e *fakeEngine) Options() processing.Options { return e.opts }

func (e *fakeEngine) Run(context.Context) (*processing.Results, error) {
	if e.runErr != nil {
		return nil, e.runErr
	}
	return e.results, nil
}

func (e *fakeEngine) Evaluate(_ context.Context, p *pattern.Pattern, id int) (*processing.DocumentEvaluation, error) {
	e.evaluated = append(e.evaluated, id)
	return &processing.DocumentEvaluation{
		Document:   processing.DocumentSummary{ID: id, Title: "scan"},
		NumPages:   1,
		Evaluation: pattern.Evaluation{Pattern: p.Name, Matched: true},
	}, nil
}

func (e *fakeEngine) MatchingDocuments(context.Context, *pattern.Pattern) iter.Seq2[processing.DocumentSummary, error] {
	return func(yield func(processing.DocumentSummary, error) bool) {
		if e.matchErr != nil {
			yield(processing.DocumentSummary{}, e.matchErr)
			return
		}
		for _, d := range e.matches {
			if !yield(d, nil) {
				return
			}
		}
	}
}

type testServer struct {
	*Server
	store  *pattern.Store
	engine *fakeEngine
	db     *storage.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	store, err := pattern.NewStore(filepath.Join(dir, "patterns"), logger)
	require.NoError(t, err)
	db, err := storage.Open(context.Background(), filepath.Join(dir, "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := &fakeEngine{opts: processing.Options{ResultsPath: filepath.Join(dir, "results.json")}}
	cfg := config.DefaultConfig()
	cfg.ServerName = "test-server"

	s, err := NewServer(cfg, store, engine, db.History(storage.DefaultHistorySize), logger)
	require.NoError(t, err)
	return &testServer{Server: s, store: store, engine: engine, db: db}
}

func samplePattern(name string) *pattern.Pattern {
	return &pattern.Pattern{
		Name:   name,
		Checks: check.List{&check.Correspondent{Name: "ACME"}},
		Regions: []region.Region{
			{Rect: layout.Rect{X: 0, Y: 0, X2: 595, Y2: 842}, Kind: region.KindSimple, SimpleExpr: "Total <Total:number>"},
		},
		Fields: []field.Field{{Kind: field.KindCustom, Name: "Amount", Template: "{{ Total }}"}},
	}
}

func patternJSON(t *testing.T, p *pattern.Pattern) string {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return string(data)
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
	result, err := handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	cfg := config.DefaultConfig()
	store, err := pattern.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = NewServer(cfg, nil, &fakeEngine{}, nil, nil)
	assert.Error(t, err)
	_, err = NewServer(cfg, store, nil, nil, nil)
	assert.Error(t, err)
}

func TestServer_PatternLifecycle(t *testing.T) {
	s := newTestServer(t)

	res := call(t, s.handleListPatterns, nil)
	assert.Equal(t, "No patterns stored.", extractTextFromResult(res))

	res = call(t, s.handlePutPattern, map[string]any{"pattern": patternJSON(t, samplePattern("acme")), "create": true})
	require.False(t, res.IsError, extractTextFromResult(res))

	res = call(t, s.handlePutPattern, map[string]any{"pattern": patternJSON(t, samplePattern("acme")), "create": true})
	assert.True(t, res.IsError)
	assert.Contains(t, extractTextFromResult(res), "already exists")

	// Without create an existing pattern is replaced.
	res = call(t, s.handlePutPattern, map[string]any{"pattern": patternJSON(t, samplePattern("acme"))})
	assert.False(t, res.IsError)

	res = call(t, s.handleListPatterns, nil)
	assert.Contains(t, extractTextFromResult(res), "- acme")

	res = call(t, s.handleGetPattern, map[string]any{"name": "acme"})
	require.False(t, res.IsError)
	var got pattern.Pattern
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(res)), &got))
	assert.Equal(t, "acme", got.Name)
	require.Len(t, got.Fields, 1)
	assert.Equal(t, "Amount", got.Fields[0].Name)

	res = call(t, s.handleRenamePattern, map[string]any{"name": "acme", "new_name": "acme-invoice"})
	require.False(t, res.IsError, extractTextFromResult(res))
	_, err := s.store.Get("acme")
	assert.ErrorIs(t, err, pattern.ErrPatternNotFound)

	res = call(t, s.handleDeletePattern, map[string]any{"name": "acme-invoice"})
	require.False(t, res.IsError)
	res = call(t, s.handleGetPattern, map[string]any{"name": "acme-invoice"})
	assert.True(t, res.IsError)
}

func TestServer_PutPatternRejectsInvalid(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing argument", map[string]any{}, "pattern"},
		{"malformed json", map[string]any{"pattern": "{"}, "decode pattern"},
		{"missing name", map[string]any{"pattern": `{"checks":[],"regions":[],"fields":[]}`}, "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, s.handlePutPattern, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, extractTextFromResult(res), tt.want)
		})
	}
}

func TestServer_EvaluatePattern(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Create(samplePattern("stored")))

	res := call(t, s.handleEvaluatePattern, map[string]any{"name": "stored", "document_id": float64(12)})
	require.False(t, res.IsError, extractTextFromResult(res))
	var ev processing.DocumentEvaluation
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(res)), &ev))
	assert.Equal(t, 12, ev.Document.ID)
	assert.Equal(t, "stored", ev.Evaluation.Pattern)

	// An inline pattern wins over the name.
	res = call(t, s.handleEvaluatePattern, map[string]any{
		"name":        "stored",
		"pattern":     patternJSON(t, samplePattern("draft")),
		"document_id": float64(13),
	})
	require.False(t, res.IsError)
	assert.Contains(t, extractTextFromResult(res), `"pattern": "draft"`)
	assert.Equal(t, []int{12, 13}, s.engine.evaluated)

	res = call(t, s.handleEvaluatePattern, map[string]any{"document_id": float64(1)})
	assert.True(t, res.IsError)
	assert.Contains(t, extractTextFromResult(res), "either pattern or name")

	res = call(t, s.handleEvaluatePattern, map[string]any{"name": "stored"})
	assert.True(t, res.IsError)
}

func TestServer_MatchingDocuments(t *testing.T) {
	s := newTestServer(t)
	s.engine.matches = []processing.DocumentSummary{{ID: 1}, {ID: 2}, {ID: 3}}
	inline := patternJSON(t, samplePattern("draft"))

	res := call(t, s.handleMatchingDocuments, map[string]any{"pattern": inline, "limit": float64(2)})
	require.False(t, res.IsError)
	var out struct {
		Documents []processing.DocumentSummary `json:"documents"`
	}
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(res)), &out))
	assert.Len(t, out.Documents, 2)

	s.engine.matchErr = errors.New("paperless unavailable")
	res = call(t, s.handleMatchingDocuments, map[string]any{"pattern": inline})
	assert.True(t, res.IsError)
	assert.Contains(t, extractTextFromResult(res), "paperless unavailable")
}

func TestServer_ProcessAll(t *testing.T) {
	s := newTestServer(t)
	results := processing.NewResults()
	results.Matched[1] = []string{"acme"}
	results.Updated = []int{1}
	results.Errors = []processing.ProcessingError{
		{Document: processing.ProcessedDocument{ID: 2, Title: "bill"}, PatternName: "acme", Error: "field \"Amount\": bad"},
	}
	s.engine.results = results

	res := call(t, s.handleProcessAll, nil)
	require.False(t, res.IsError)
	text := extractTextFromResult(res)
	assert.Contains(t, text, "Matched: 1 documents")
	assert.Contains(t, text, "Updated: 1 documents")
	assert.Contains(t, text, "- #2 bill [acme]")

	s.engine.runErr = fmt.Errorf("process_all: %w", storage.ErrAlreadyRunning)
	res = call(t, s.handleProcessAll, nil)
	assert.True(t, res.IsError)
	assert.Equal(t, "processing is already running", extractTextFromResult(res))
}

func TestServer_LastResults(t *testing.T) {
	s := newTestServer(t)

	res := call(t, s.handleLastResults, nil)
	assert.Equal(t, "No run has completed yet.", extractTextFromResult(res))

	results := processing.NewResults()
	results.Unmatched = []processing.ProcessedDocument{{ID: 9, Title: "letter"}}
	require.NoError(t, results.Save(s.engine.opts.ResultsPath))

	res = call(t, s.handleLastResults, nil)
	require.False(t, res.IsError)
	assert.Contains(t, extractTextFromResult(res), `"title": "letter"`)
}

func TestServer_History(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.db.History(storage.DefaultHistorySize).LogUpdate(ctx, 4, "invoice", "title=\"x\"")
	require.NoError(t, err)

	res := call(t, s.handleHistory, nil)
	require.False(t, res.IsError)
	var items []storage.HistoryItem
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(res)), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "invoice", items[0].Title)
}

func TestServer_ToolsList(t *testing.T) {
	s := newTestServer(t)

	msg := s.mcpServer.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{
		"list_patterns", "get_pattern", "put_pattern", "delete_pattern", "rename_pattern",
		"evaluate_pattern", "matching_documents", "process_all", "last_results", "history",
	} {
		assert.Contains(t, names, want)
	}
}

func TestServer_RunStopsWithContext(t *testing.T) {
	s := newTestServer(t)
	s.stdin = strings.NewReader("")
	s.stdout = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx)
	if err != nil && !strings.Contains(err.Error(), "context") && !errors.Is(err, io.EOF) {
		t.Errorf("Run() error = %v, expected context-related error", err)
	}
}

func TestServer_RunRejectsBatchModes(t *testing.T) {
	s := newTestServer(t)
	s.config.Mode = config.ModeProcess

	err := s.Run(context.Background())
	assert.ErrorContains(t, err, "does not serve MCP")
}

// Helper function to extract text from a CallToolResult
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}
