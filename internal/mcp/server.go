package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	recallerr "github.com/recallkit/recall/internal/errors"
	"github.com/recallkit/recall/internal/index"
	"github.com/recallkit/recall/internal/search"
	"github.com/recallkit/recall/pkg/version"
)

// Read-window defaults for the get tool.
const (
	DefaultGetLines = 80
	MaxGetLines     = 400
)

// StatusProvider exposes the index manager's state to tool responses.
type StatusProvider interface {
	Snapshot() index.SyncState
}

// ServerConfig wires the retrieval tool layer.
type ServerConfig struct {
	// Ranker answers search; Guard clears every get path first.
	Ranker *search.Ranker
	Guard  *Guard

	// Status supplies degradation notes for search responses. Optional.
	Status StatusProvider

	// Scope is the caller's trust level for this server instance.
	Scope Scope

	// MaxResults and MinScore are the search defaults from config.
	MaxResults int
	MinScore   float64

	// GetDefaultLines and GetMaxLines bound the get window.
	GetDefaultLines int
	GetMaxLines     int
}

// Server is the MCP retrieval server. It exposes exactly two tools, search
// and get, over stdio. Logs must never reach stdout: that is the transport.
type Server struct {
	mcp *mcp.Server
	cfg ServerConfig
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ranker == nil {
		return nil, recallerr.New(recallerr.ErrCodeConfigInvalid, "ranker is required", nil)
	}
	if cfg.Guard == nil {
		return nil, recallerr.New(recallerr.ErrCodeConfigInvalid, "path guard is required", nil)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = search.DefaultMaxResults
	}
	if cfg.GetDefaultLines <= 0 {
		cfg.GetDefaultLines = DefaultGetLines
	}
	if cfg.GetMaxLines <= 0 {
		cfg.GetMaxLines = MaxGetLines
	}

	s := &Server{cfg: cfg}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "recall",
		Version: version.Version,
	}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the agent's long-term memory: curated facts, daily logs, and session transcripts. Returns ranked excerpts with paths and line ranges; use get to read more context around a hit.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get",
		Description: "Read a bounded line window from a memory document, typically around a search hit. Only memory paths are readable.",
	}, s.handleGet)

	return s, nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		slog.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	slog.Info("mcp_server_stopped")
	return nil
}

// handleSearch runs a ranked memory search. A degraded or failing index
// yields an empty result with a status note, never a tool error: the agent
// should keep working with what it has.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	start := time.Now()

	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, recallerr.New(recallerr.ErrCodeQueryEmpty, "query must not be empty", nil)
	}

	k := input.MaxResults
	if k <= 0 || k > s.cfg.MaxResults {
		k = s.cfg.MaxResults
	}
	minScore := input.MinScore
	if minScore <= 0 {
		minScore = s.cfg.MinScore
	}

	results, err := s.cfg.Ranker.Rank(ctx, input.Query, k, minScore)
	if err != nil {
		slog.Warn("search_degraded", slog.String("error", err.Error()))
		return nil, SearchOutput{Status: "index unavailable, results are incomplete"}, nil
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		// The scope's allow-list applies to snippets too: a source the
		// caller cannot get must not leak through search.
		if s.cfg.Scope != ScopeFull && !s.cfg.Guard.Readable(r.Path, s.cfg.Scope) {
			continue
		}
		out.Results = append(out.Results, SearchResultOutput{
			Path:      r.Path,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Heading:   r.HeadingPath,
			Snippet:   r.Snippet,
			Score:     r.Score,
			Source:    r.SourceKind,
		})
	}
	if note := s.statusNote(); note != "" {
		out.Status = note
	}

	slog.Info("search_completed",
		slog.Int("results", len(out.Results)),
		slog.Duration("duration", time.Since(start)))
	return nil, out, nil
}

// statusNote describes index degradation worth surfacing with results.
func (s *Server) statusNote() string {
	if s.cfg.Status == nil {
		return ""
	}
	snap := s.cfg.Status.Snapshot()
	switch {
	case snap.Degraded:
		return fmt.Sprintf("serving from fallback backend %s", snap.Backend)
	case snap.Dirty:
		return "index is catching up, recent edits may be missing"
	default:
		return ""
	}
}

// handleGet reads a line window from an allow-listed document. The guard
// runs before any filesystem access.
func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (
	*mcp.CallToolResult, GetOutput, error,
) {
	resolved, err := s.cfg.Guard.Authorize(input.Path, s.cfg.Scope)
	if err != nil {
		return nil, GetOutput{}, err
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, GetOutput{}, recallerr.SourceReadError(input.Path, err)
	}

	out := window(string(content), input.From, input.Lines, s.cfg.GetDefaultLines, s.cfg.GetMaxLines)
	out.Path = resolved

	slog.Info("get_completed",
		slog.String("path", resolved),
		slog.Int("from", out.From),
		slog.Int("to", out.To))
	return nil, out, nil
}

// window slices a bounded 1-indexed line range out of content. Out-of-range
// requests clamp rather than fail.
func window(content string, from, lines, defaultLines, maxLines int) GetOutput {
	all := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	total := len(all)
	if content == "" {
		all, total = nil, 0
	}

	if lines <= 0 {
		lines = defaultLines
	}
	if lines > maxLines {
		lines = maxLines
	}
	if from <= 0 {
		from = 1
	}
	if from > total {
		return GetOutput{From: from, To: from - 1, TotalLines: total}
	}

	to := from + lines - 1
	if to > total {
		to = total
	}

	return GetOutput{
		From:       from,
		To:         to,
		TotalLines: total,
		Content:    strings.Join(all[from-1:to], "\n"),
	}
}
