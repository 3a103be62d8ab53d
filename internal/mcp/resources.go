package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/verirag/internal/store"
)

// Resource URIs.
const (
	StatusURI         = "verirag://index/status"
	QueryLogURI       = "verirag://telemetry/queries"
	ChunkURIPrefix    = "verirag://chunk/"
	chunkURITemplate  = ChunkURIPrefix + "{id}"
	jsonMIMEType      = "application/json"
	markdownMIMEType  = "text/markdown"
	verilogMIMEType   = "text/x-verilog"
	plainTextMIMEType = "text/plain"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "index_status",
			URI:         StatusURI,
			Description: "Loaded snapshot summary, graph diagnostics and gate policy",
			MIMEType:    jsonMIMEType,
		},
		s.handleStatusResource,
	)
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "chunk",
			URITemplate: chunkURITemplate,
			Description: "Full content of one indexed chunk by id",
		},
		s.handleChunkResource,
	)
}

func (s *Server) registerQueryLogResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_log",
			URI:         QueryLogURI,
			Description: "Recent query patterns: top terms, zero-result queries, latency buckets and gate tiers",
			MIMEType:    jsonMIMEType,
		},
		s.handleQueryLogResource,
	)
}

func (s *Server) handleStatusResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(StatusURI, s.indexStatus(ctx))
}

func (s *Server) handleQueryLogResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	queries := metrics.Queries()
	if queries == nil {
		return nil, NewInvalidParamsError("query telemetry not available")
	}
	return jsonResource(QueryLogURI, queries.Snapshot())
}

func (s *Server) handleChunkResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	return s.readChunk(uri)
}

// readChunk serves verirag://chunk/<id> from the current snapshot.
func (s *Server) readChunk(uri string) (*mcp.ReadResourceResult, error) {
	id, ok := strings.CutPrefix(uri, ChunkURIPrefix)
	if !ok || id == "" {
		return nil, NewResourceNotFoundError(uri)
	}
	snap := s.index.Current()
	if snap == nil {
		return nil, NewResourceNotFoundError(uri)
	}
	c, ok := snap.Lookup.Chunk(id)
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: mimeTypeForCategory(c.Category),
				Text:     c.Content,
			},
		},
	}, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: jsonMIMEType,
				Text:     string(content),
			},
		},
	}, nil
}

func mimeTypeForCategory(category string) string {
	switch strings.ToLower(category) {
	case store.CategorySpec:
		return markdownMIMEType
	case store.CategoryVerilog:
		return verilogMIMEType
	default:
		return plainTextMIMEType
	}
}
