package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/verirag/internal/async"
	"github.com/Aman-CERP/verirag/internal/config"
	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/telemetry"
	"github.com/Aman-CERP/verirag/pkg/version"
)

// Index is the part of index.Manager the server needs.
type Index interface {
	Current() *index.Snapshot
	HybridSearch(ctx context.Context, query string, opts search.Options) ([]*search.SearchResult, error)
	EmbeddingSearch(ctx context.Context, query string, limit int) ([]search.ScoredChunk, error)
	Status() (index.Status, bool)
}

// Server bridges MCP clients with the hybrid retrieval engine and the
// confidence gate. The index may be swapped underneath it at any time;
// every call works on whichever snapshot is current when it starts.
type Server struct {
	mcp    *mcp.Server
	index  Index
	gate   *gate.Gate
	judge  gate.JudgeFunc
	config *config.Config
	logger *slog.Logger

	// Optional, set via SetMetrics and SetImportProgress.
	metrics *telemetry.Metrics
	imports *async.Progress

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name:        ToolHybridSearch,
		Description: "Search the protocol documentation and RTL corpus. Fuses dense embedding similarity, BM25 keyword scoring and document-graph expansion into one ranking, with per-source score breakdowns.",
	},
	{
		Name:        ToolSmartDecide,
		Description: "Decide whether retrieved context is relevant enough to inject for a question. Returns use=false for low-confidence retrievals; otherwise a ready-to-inject context block.",
	},
	{
		Name:        ToolGraphRelated,
		Description: "List sections, tables and code blocks structurally related to a node (section hierarchy, cross references, containment) within a bounded number of hops.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report whether the index is loaded, its size, graph diagnostics, retrieval source health and the gate thresholds.",
	},
}

// NewServer creates an MCP server over idx. A nil gate is built from cfg;
// judge may be nil, in which case mid-band decisions default to use.
func NewServer(idx Index, g *gate.Gate, judge gate.JudgeFunc, cfg *config.Config) (*Server, error) {
	if idx == nil {
		return nil, errors.New("index is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if g == nil {
		var err error
		if g, err = gate.New(cfg.GateConfig()); err != nil {
			return nil, fmt.Errorf("failed to create gate: %w", err)
		}
	}

	s := &Server{
		index:  idx,
		gate:   g,
		judge:  judge,
		config: cfg,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// SetImportProgress reports a background import in index_status.
func (s *Server) SetImportProgress(p *async.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports = p
}

// SetMetrics attaches the telemetry collector and exposes the query log
// as a resource.
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerQueryLogResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return version.Name, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(toolInfos))
	copy(out, toolInfos)
	return out
}

// CallTool invokes a tool by name with JSON-decoded arguments. Search,
// decide and graph tools return markdown; index_status returns
// *IndexStatusOutput.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolHybridSearch:
		var in HybridSearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		results, err := s.hybridSearch(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatSearchResults(in.Query, results), nil
	case ToolSmartDecide:
		var in SmartDecideInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		d, err := s.smartDecide(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatDecision(in.Query, d, s.config.Gate.MaxContextChars), nil
	case ToolGraphRelated:
		var in GraphRelatedInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.graphRelated(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatRelated(out.Start, out.Related), nil
	case ToolIndexStatus:
		return s.indexStatus(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// decodeArgs maps loosely typed arguments onto a tool input struct.
func decodeArgs(args map[string]any, into any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := json.Unmarshal(data, into); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	return nil
}

func (s *Server) hybridSearch(ctx context.Context, in HybridSearchInput) ([]*search.SearchResult, error) {
	start := time.Now()
	requestID := generateRequestID()

	if err := validateQuery(in.Query); err != nil {
		return nil, err
	}
	opts, err := search.Options{
		Limit:      clampLimit(in.Limit, DefaultLimit, 1, MaxLimit),
		GraphHops:  clampLimit(in.GraphHops, s.config.Retrieval.GraphHops, 1, MaxGraphHops),
		Categories: in.Categories,
	}.WithSources(in.Sources)
	if err != nil {
		return nil, NewInvalidParamsError(err.Error())
	}

	s.logger.Info("hybrid_search started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.Int("limit", opts.Limit))

	results, err := s.index.HybridSearch(ctx, in.Query, opts)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("hybrid_search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("hybrid_search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))
	return results, nil
}

func (s *Server) smartDecide(ctx context.Context, in SmartDecideInput) (gate.Decision, error) {
	start := time.Now()
	requestID := generateRequestID()

	// A blank query is a valid question with nothing to retrieve; the gate
	// rejects it without searching.
	if strings.TrimSpace(in.Query) != "" {
		if _, ok := s.index.Status(); !ok {
			return gate.Decision{}, MapError(index.ErrNoSnapshot)
		}
	}

	opts := search.DefaultOptions()
	opts.GraphHops = s.config.Retrieval.GraphHops
	opts.Categories = in.Categories

	d, err := s.gate.Decide(ctx, in.Query, s.gate.SearchFor(s.index, opts), s.judge)
	if err != nil {
		s.logger.Error("smart_decide failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return gate.Decision{}, MapError(err)
	}

	s.logger.Info("smart_decide completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("tier", string(d.Tier)),
		slog.Bool("use", d.Use),
		slog.Bool("judge_called", d.JudgeCalled))
	return d, nil
}

func (s *Server) graphRelated(_ context.Context, in GraphRelatedInput) (GraphRelatedOutput, error) {
	snap := s.index.Current()
	if snap == nil || snap.Graph == nil {
		return GraphRelatedOutput{}, MapError(index.ErrNoSnapshot)
	}
	if strings.TrimSpace(in.Node) == "" {
		return GraphRelatedOutput{}, NewInvalidParamsError("node parameter is required")
	}
	edgeTypes, err := graph.ParseEdgeTypes(in.EdgeTypes)
	if err != nil {
		return GraphRelatedOutput{}, NewInvalidParamsError(err.Error())
	}
	start, ok := snap.Graph.Resolve(in.Node)
	if !ok {
		return GraphRelatedOutput{}, NewNodeNotFoundError(in.Node)
	}

	hops := clampLimit(in.Hops, s.config.Retrieval.GraphHops, 1, MaxGraphHops)
	related := snap.Graph.TraverseRelated(start, hops, edgeTypes...)

	s.logger.Debug("graph_related completed",
		slog.String("start", start),
		slog.Int("hops", hops),
		slog.Int("related", len(related)))
	return GraphRelatedOutput{Start: start, Related: toRelatedOutput(snap.Graph, related)}, nil
}

func (s *Server) indexStatus(_ context.Context) *IndexStatusOutput {
	gc := s.gate.Config()
	out := &IndexStatusOutput{
		Gate: GateInfo{
			HighThreshold: gc.HighThreshold,
			LowThreshold:  gc.LowThreshold,
			TopK:          gc.TopK,
			Source:        gc.Source,
			Judge:         s.judge != nil,
		},
		Embedding: EmbeddingInfo{
			Provider: s.config.Embedding.Provider,
			Model:    s.config.Embedding.Model,
		},
	}
	if st, ok := s.index.Status(); ok {
		out.Ready = true
		out.Index = toIndexInfo(st)
		out.Embedding.ActiveModel = st.EmbedderModel
	}
	if snap := s.index.Current(); snap != nil {
		out.Embedding.Available = snap.Embedding != nil
	}
	s.mu.RLock()
	imports := s.imports
	s.mu.RUnlock()
	if imports != nil {
		p := imports.Snapshot()
		out.Import = &p
	}
	return out
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	descriptions := make(map[string]string, len(toolInfos))
	for _, t := range toolInfos {
		descriptions[t.Name] = t.Description
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolHybridSearch, Description: descriptions[ToolHybridSearch]}, s.mcpHybridSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSmartDecide, Description: descriptions[ToolSmartDecide]}, s.mcpSmartDecideHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolGraphRelated, Description: descriptions[ToolGraphRelated]}, s.mcpGraphRelatedHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexStatus, Description: descriptions[ToolIndexStatus]}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(toolInfos)))
}

func (s *Server) mcpHybridSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input HybridSearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	results, err := s.hybridSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, ToSearchResultOutput(r))
	}
	return nil, out, nil
}

func (s *Server) mcpSmartDecideHandler(ctx context.Context, _ *mcp.CallToolRequest, input SmartDecideInput) (
	*mcp.CallToolResult,
	SmartDecideOutput,
	error,
) {
	d, err := s.smartDecide(ctx, input)
	if err != nil {
		return nil, SmartDecideOutput{}, err
	}
	out := SmartDecideOutput{
		Use:         d.Use,
		Tier:        string(d.Tier),
		TopScore:    d.TopScore,
		JudgeCalled: d.JudgeCalled,
		Results:     make([]SearchResultOutput, 0, len(d.Results)),
	}
	if d.Use {
		out.Context = gate.FormatContext(d.Results, s.config.Gate.MaxContextChars)
	}
	for _, h := range d.Results {
		if r := gate.ResultOf(h); r != nil {
			out.Results = append(out.Results, ToSearchResultOutput(r))
		}
	}
	return nil, out, nil
}

func (s *Server) mcpGraphRelatedHandler(ctx context.Context, _ *mcp.CallToolRequest, input GraphRelatedInput) (
	*mcp.CallToolResult,
	GraphRelatedOutput,
	error,
) {
	out, err := s.graphRelated(ctx, input)
	if err != nil {
		return nil, GraphRelatedOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(ctx), nil
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
