package mcp

import (
	"time"

	"github.com/Aman-CERP/verirag/internal/async"
	"github.com/Aman-CERP/verirag/internal/index"
)

// Tool names.
const (
	ToolHybridSearch = "hybrid_search"
	ToolSmartDecide  = "smart_decide"
	ToolGraphRelated = "graph_related"
	ToolIndexStatus  = "index_status"
)

// Limits applied to tool arguments.
const (
	DefaultLimit = 10
	MaxLimit     = 50
	MaxGraphHops = 5
)

// HybridSearchInput defines the input schema for the hybrid_search tool.
type HybridSearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 50"`
	Categories []string `json:"categories,omitempty" jsonschema:"restrict to chunk categories such as spec or verilog"`
	Sources    []string `json:"sources,omitempty" jsonschema:"retrieval sources to use: embedding, bm25, graph; default all"`
	GraphHops  int      `json:"graph_hops,omitempty" jsonschema:"graph expansion depth from each seed, default 2"`
}

// SearchOutput defines the output schema for hybrid_search.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"fused results, best first"`
}

// SearchResultOutput is one fused result with its score breakdown.
type SearchResultOutput struct {
	ChunkID    string             `json:"chunk_id"`
	Title      string             `json:"title,omitempty"`
	FilePath   string             `json:"file_path,omitempty"`
	Category   string             `json:"category,omitempty"`
	ChunkType  string             `json:"chunk_type,omitempty"`
	Content    string             `json:"content"`
	Score      float64            `json:"score" jsonschema:"fused score"`
	Confidence float64            `json:"confidence" jsonschema:"fused score normalised to 0..1"`
	Sources    map[string]float64 `json:"sources,omitempty" jsonschema:"each source's contribution to score"`
	Distance   int                `json:"distance" jsonschema:"0 for direct hits, graph hops otherwise"`
}

// SmartDecideInput defines the input schema for the smart_decide tool.
type SmartDecideInput struct {
	Query      string   `json:"query" jsonschema:"the question to retrieve context for"`
	Categories []string `json:"categories,omitempty" jsonschema:"restrict to chunk categories such as spec or verilog"`
}

// SmartDecideOutput defines the output schema for smart_decide.
type SmartDecideOutput struct {
	Use         bool                 `json:"use" jsonschema:"true when the retrieved context should be injected"`
	Tier        string               `json:"tier" jsonschema:"the policy branch that decided"`
	TopScore    float64              `json:"top_score"`
	JudgeCalled bool                 `json:"judge_called"`
	Context     string               `json:"context,omitempty" jsonschema:"formatted context block, empty when use is false"`
	Results     []SearchResultOutput `json:"results"`
}

// GraphRelatedInput defines the input schema for the graph_related tool.
type GraphRelatedInput struct {
	Node      string   `json:"node" jsonschema:"node id, chunk id or section id such as 2.1"`
	Hops      int      `json:"hops,omitempty" jsonschema:"traversal depth, default 2, max 5"`
	EdgeTypes []string `json:"edge_types,omitempty" jsonschema:"edge kinds to follow: hierarchy, child_of, cross_ref, contains"`
}

// GraphRelatedOutput defines the output schema for graph_related.
type GraphRelatedOutput struct {
	Start   string          `json:"start"`
	Related []RelatedOutput `json:"related"`
}

// RelatedOutput is one node reached from the start node.
type RelatedOutput struct {
	NodeID    string `json:"node_id"`
	ChunkID   string `json:"chunk_id"`
	Title     string `json:"title,omitempty"`
	SectionID string `json:"section_id,omitempty"`
	Distance  int    `json:"distance"`
	Path      string `json:"path" jsonschema:"edge kinds followed from the start node"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for index_status.
type IndexStatusOutput struct {
	Ready     bool                    `json:"ready" jsonschema:"false until a snapshot is loaded"`
	Index     *IndexInfo              `json:"index,omitempty"`
	Import    *async.ProgressSnapshot `json:"import,omitempty" jsonschema:"background import started by the server, if any"`
	Gate      GateInfo                `json:"gate"`
	Embedding EmbeddingInfo           `json:"embedding"`
}

// IndexInfo is the loaded snapshot summary.
type IndexInfo struct {
	Chunks        int               `json:"chunks"`
	Vectors       int               `json:"vectors"`
	GraphNodes    int               `json:"graph_nodes"`
	GraphEdges    int               `json:"graph_edges"`
	RejectedEdges int64             `json:"rejected_edges" jsonschema:"edges dropped because an endpoint was missing"`
	Unresolved    int64             `json:"unresolved_refs" jsonschema:"metadata references that matched no node"`
	Lexical       string            `json:"lexical_backend"`
	VectorBackend string            `json:"vector_backend"`
	Fusion        string            `json:"fusion"`
	Source        string            `json:"source,omitempty"`
	IndexedAt     string            `json:"indexed_at,omitempty"`
	LoadedAt      string            `json:"loaded_at"`
	SourceHealth  map[string]string `json:"source_health,omitempty" jsonschema:"circuit state per retrieval source"`
	Issues        int               `json:"consistency_issues"`
}

func toIndexInfo(st index.Status) *IndexInfo {
	return &IndexInfo{
		Chunks:        st.Chunks,
		Vectors:       st.Vectors,
		GraphNodes:    st.GraphNodes,
		GraphEdges:    st.GraphEdges,
		RejectedEdges: st.RejectedEdges,
		Unresolved:    st.Unresolved,
		Lexical:       st.Lexical,
		VectorBackend: st.VectorBackend,
		Fusion:        st.Fusion,
		Source:        st.Source,
		IndexedAt:     st.IndexedAt,
		LoadedAt:      st.LoadedAt.Format(time.RFC3339),
		SourceHealth:  st.SourceHealth,
		Issues:        st.Issues,
	}
}

// GateInfo reports the confidence gate policy.
type GateInfo struct {
	HighThreshold float64 `json:"high_threshold"`
	LowThreshold  float64 `json:"low_threshold"`
	TopK          int     `json:"top_k"`
	Source        string  `json:"source"`
	Judge         bool    `json:"judge_enabled"`
}

// EmbeddingInfo reports the configured and the loaded embedder.
type EmbeddingInfo struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	ActiveModel string `json:"active_model,omitempty" jsonschema:"model the loaded vectors were built with"`
	Available   bool   `json:"available" jsonschema:"true when vector search can answer"`
}
