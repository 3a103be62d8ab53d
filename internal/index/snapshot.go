package index

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

// Snapshot is one loaded, immutable index: chunks, lexical index, graph,
// optional vector store and the engine fusing them. Queries may run on a
// Snapshot concurrently; Close must wait until none are in flight, which
// Manager guarantees by retiring replaced snapshots after a delay.
type Snapshot struct {
	Chunks    []*store.Chunk
	Lookup    search.ChunkMap
	Graph     *graph.Graph
	Engine    *search.Engine
	BM25      *store.BM25Index // nil with the bleve backend
	Vectors   store.VectorStore
	Embedding search.EmbeddingSearcher

	LexicalName   string
	VectorBackend string
	EmbedderModel string
	Source        string
	IndexedAt     string
	LoadedAt      time.Time

	Consistency *CheckResult

	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// HybridSearch runs the snapshot's engine.
func (s *Snapshot) HybridSearch(ctx context.Context, query string, opts search.Options) ([]*search.SearchResult, error) {
	return s.Engine.HybridSearch(ctx, query, opts)
}

// ErrNoVectors is returned by EmbeddingSearch on a snapshot loaded without
// an embedding source.
var ErrNoVectors = verrors.SourceUnavailable(search.SourceEmbedding, errors.New("snapshot has no vectors"))

// EmbeddingSearch returns the nearest chunks by cosine similarity alone.
func (s *Snapshot) EmbeddingSearch(ctx context.Context, query string, limit int) ([]search.ScoredChunk, error) {
	if s.Embedding == nil {
		return nil, ErrNoVectors
	}
	return s.Embedding.Search(ctx, query, limit)
}

// Status is the snapshot summary reported by `verirag status` and the
// index_status tool.
type Status struct {
	Chunks        int               `json:"chunks"`
	Vectors       int               `json:"vectors"`
	GraphNodes    int               `json:"graph_nodes"`
	GraphEdges    int               `json:"graph_edges"`
	RejectedEdges int64             `json:"rejected_edges"`
	Unresolved    int64             `json:"unresolved_refs"`
	Lexical       string            `json:"lexical_backend"`
	VectorBackend string            `json:"vector_backend"`
	EmbedderModel string            `json:"embedder_model,omitempty"`
	Fusion        string            `json:"fusion"`
	Source        string            `json:"source,omitempty"`
	IndexedAt     string            `json:"indexed_at,omitempty"`
	LoadedAt      time.Time         `json:"loaded_at"`
	SourceHealth  map[string]string `json:"source_health"`
	Issues        int               `json:"consistency_issues"`
}

// Status summarizes the snapshot.
func (s *Snapshot) Status() Status {
	st := Status{
		Chunks:        len(s.Chunks),
		Lexical:       s.LexicalName,
		VectorBackend: s.VectorBackend,
		EmbedderModel: s.EmbedderModel,
		Source:        s.Source,
		IndexedAt:     s.IndexedAt,
		LoadedAt:      s.LoadedAt,
	}
	if s.Vectors != nil {
		st.Vectors = s.Vectors.Count()
	}
	if s.Graph != nil {
		gs := s.Graph.Stats()
		st.GraphNodes = gs.Nodes
		st.GraphEdges = gs.Edges
		st.RejectedEdges = gs.RejectedEdges
		st.Unresolved = gs.UnresolvedRefs
	}
	if s.Engine != nil {
		st.Fusion = s.Engine.FusionName()
		st.SourceHealth = s.Engine.SourceHealth()
	}
	if s.Consistency != nil {
		st.Issues = len(s.Consistency.Inconsistencies)
	}
	return st
}

// Close releases the vector store and lexical index. Safe to call more
// than once.
func (s *Snapshot) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
