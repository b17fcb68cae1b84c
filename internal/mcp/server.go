// Package mcp exposes pattern editing, evaluation and bulk processing as
// MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/a3tai/plngx-dissect/internal/config"
	"github.com/a3tai/plngx-dissect/internal/pattern"
	"github.com/a3tai/plngx-dissect/internal/processing"
	"github.com/a3tai/plngx-dissect/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultListLimit = 50
	shutdownTimeout  = 5 * time.Second
)

// Patterns is the pattern store the tools edit.
type Patterns interface {
	List() ([]pattern.Summary, error)
	Get(name string) (*pattern.Pattern, error)
	Create(p *pattern.Pattern) error
	Put(name string, p *pattern.Pattern) error
	Delete(name string) error
	Rename(oldName, newName string) error
}

// Engine evaluates patterns against paperless documents.
type Engine interface {
	Options() processing.Options
	Run(ctx context.Context) (*processing.Results, error)
	Evaluate(ctx context.Context, p *pattern.Pattern, id int) (*processing.DocumentEvaluation, error)
	MatchingDocuments(ctx context.Context, p *pattern.Pattern) iter.Seq2[processing.DocumentSummary, error]
}

// History lists recent document updates.
type History interface {
	List(ctx context.Context) ([]storage.HistoryItem, error)
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	patterns  Patterns
	engine    Engine
	history   History
	logger    *slog.Logger
	mcpServer *server.MCPServer

	stdin  io.Reader
	stdout io.Writer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, patterns Patterns, engine Engine, history History, logger *slog.Logger) (*Server, error) {
	if patterns == nil {
		return nil, errors.New("patterns cannot be nil")
	}
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		patterns:  patterns,
		engine:    engine,
		history:   history,
		logger:    logger,
		mcpServer: mcpServer,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	patternArg := mcp.WithString("pattern",
		mcp.Description("Pattern as JSON; takes precedence over name"),
	)
	nameArg := mcp.WithString("name",
		mcp.Description("Name of a stored pattern"),
	)

	s.mcpServer.AddTool(mcp.NewTool(
		"list_patterns",
		mcp.WithDescription("List the names of all stored patterns"),
	), s.handleListPatterns)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_pattern",
		mcp.WithDescription("Return a stored pattern as JSON"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Pattern name")),
	), s.handleGetPattern)

	s.mcpServer.AddTool(mcp.NewTool(
		"put_pattern",
		mcp.WithDescription("Create or replace a pattern. With create=true an existing pattern is an error"),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Pattern as JSON")),
		mcp.WithBoolean("create", mcp.Description("Fail if the pattern already exists")),
	), s.handlePutPattern)

	s.mcpServer.AddTool(mcp.NewTool(
		"delete_pattern",
		mcp.WithDescription("Delete a stored pattern"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Pattern name")),
	), s.handleDeletePattern)

	s.mcpServer.AddTool(mcp.NewTool(
		"rename_pattern",
		mcp.WithDescription("Rename a stored pattern. Fails if the new name is taken"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Current name")),
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New name")),
	), s.handleRenamePattern)

	s.mcpServer.AddTool(mcp.NewTool(
		"evaluate_pattern",
		mcp.WithDescription("Evaluate a pattern against one document and report checks, regions and fields without writing anything"),
		patternArg,
		nameArg,
		mcp.WithNumber("document_id", mcp.Required(), mcp.Description("Paperless document id")),
	), s.handleEvaluatePattern)

	s.mcpServer.AddTool(mcp.NewTool(
		"matching_documents",
		mcp.WithDescription("List the selected documents a pattern matches"),
		patternArg,
		nameArg,
		mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 50)")),
	), s.handleMatchingDocuments)

	s.mcpServer.AddTool(mcp.NewTool(
		"process_all",
		mcp.WithDescription("Apply all stored patterns to the selected documents and write the extracted values back"),
	), s.handleProcessAll)

	s.mcpServer.AddTool(mcp.NewTool(
		"last_results",
		mcp.WithDescription("Report of the last bulk run"),
	), s.handleLastResults)

	s.mcpServer.AddTool(mcp.NewTool(
		"history",
		mcp.WithDescription("Recent document updates, oldest first"),
	), s.handleHistory)
}

func (s *Server) handleListPatterns(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.patterns.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No patterns stored."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d patterns:\n", len(list))
	for _, p := range list {
		fmt.Fprintf(&b, "- %s\n", p.Name)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetPattern(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.patterns.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(p)
}

func (s *Server) handlePutPattern(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := decodePattern(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if request.GetBool("create", false) {
		err = s.patterns.Create(p)
	} else {
		err = s.patterns.Put(p.Name, p)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("pattern.saved", "pattern", p.Name)
	return mcp.NewToolResultText(fmt.Sprintf("Saved pattern %q.", p.Name)), nil
}

func (s *Server) handleDeletePattern(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.patterns.Delete(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("pattern.deleted", "pattern", name)
	return mcp.NewToolResultText(fmt.Sprintf("Deleted pattern %q.", name)), nil
}

func (s *Server) handleRenamePattern(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newName, err := request.RequireString("new_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.patterns.Rename(name, newName); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("pattern.renamed", "from", name, "to", newName)
	return mcp.NewToolResultText(fmt.Sprintf("Renamed pattern %q to %q.", name, newName)), nil
}

func (s *Server) handleEvaluatePattern(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.patternArgument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := request.RequireInt("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ev, err := s.engine.Evaluate(ctx, p, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ev)
}

func (s *Server) handleMatchingDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.patternArgument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}

	docs := []processing.DocumentSummary{}
	var failures []string
	for d, err := range s.engine.MatchingDocuments(ctx, p) {
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		docs = append(docs, d)
		if len(docs) >= limit {
			break
		}
	}
	if len(docs) == 0 && len(failures) > 0 {
		return mcp.NewToolResultError(strings.Join(failures, "; ")), nil
	}
	return jsonResult(struct {
		Documents []processing.DocumentSummary `json:"documents"`
		Errors    []string                     `json:"errors,omitempty"`
	}{docs, failures})
}

func (s *Server) handleProcessAll(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.Run(ctx)
	if errors.Is(err, storage.ErrAlreadyRunning) {
		return mcp.NewToolResultError("processing is already running"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatResults(res, s.engine.Options().DryRun)), nil
}

func (s *Server) handleLastResults(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := s.engine.Options().ResultsPath
	if path == "" {
		return mcp.NewToolResultError("run results are not persisted"), nil
	}
	res, err := processing.LoadResults(path)
	if errors.Is(err, os.ErrNotExist) {
		return mcp.NewToolResultText("No run has completed yet."), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleHistory(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("history is not available"), nil
	}
	items, err := s.history.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

// patternArgument returns the pattern given inline, or the stored one named.
func (s *Server) patternArgument(request mcp.CallToolRequest) (*pattern.Pattern, error) {
	if raw := request.GetString("pattern", ""); raw != "" {
		return decodePattern(raw)
	}
	name := request.GetString("name", "")
	if name == "" {
		return nil, errors.New("either pattern or name is required")
	}
	return s.patterns.Get(name)
}

func decodePattern(raw string) (*pattern.Pattern, error) {
	var p pattern.Pattern
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode pattern: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func formatResults(res *processing.Results, dryRun bool) string {
	var b strings.Builder
	if dryRun {
		b.WriteString("Dry run, nothing was written.\n")
	}
	fmt.Fprintf(&b, "Matched: %d documents\n", len(res.Matched))
	fmt.Fprintf(&b, "Updated: %d documents\n", len(res.Updated))
	fmt.Fprintf(&b, "Unmatched: %d documents\n", len(res.Unmatched))
	fmt.Fprintf(&b, "Errors: %d\n", len(res.Errors))
	for _, e := range res.Errors {
		if e.PatternName != "" {
			fmt.Fprintf(&b, "- #%d %s [%s]: %s\n", e.Document.ID, e.Document.Title, e.PatternName, e.Error)
		} else {
			fmt.Fprintf(&b, "- #%d %s: %s\n", e.Document.ID, e.Document.Title, e.Error)
		}
	}
	return b.String()
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	switch {
	case s.config.IsServerMode():
		return s.runServerMode(ctx)
	case s.config.IsStdioMode():
		return s.runStdioMode(ctx)
	default:
		return fmt.Errorf("mode %q does not serve MCP", s.config.Mode)
	}
}

// runStdioMode serves MCP on stdin/stdout until ctx is done.
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Info("mcp.stdio.start", "patterns_dir", s.config.PatternsDir)

	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, s.stdin, s.stdout); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE on the configured address.
func (s *Server) runServerMode(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errc := make(chan error, 1)
	go func() {
		errc <- sse.Start(addr)
	}()
	s.logger.Info("mcp.sse.start", "addr", addr)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve sse: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown sse: %w", err)
		}
		s.logger.Info("mcp.sse.stop", "addr", addr)
		return nil
	}
}
