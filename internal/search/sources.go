package search

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/store"
)

// VectorSearcher is the embedding collaborator backed by an embedder and a
// vector store.
type VectorSearcher struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	chunks   ChunkLookup
}

var _ EmbeddingSearcher = (*VectorSearcher)(nil)

// NewVectorSearcher wires an embedder to a vector store.
func NewVectorSearcher(embedder embed.Embedder, vectors store.VectorStore, chunks ChunkLookup) (*VectorSearcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk lookup is required", ErrNilDependency)
	}
	return &VectorSearcher{embedder: embedder, vectors: vectors, chunks: chunks}, nil
}

// Search embeds the query and returns the nearest chunks by cosine
// similarity. Vectors whose chunk is no longer known are skipped.
func (s *VectorSearcher) Search(ctx context.Context, query string, limit int) ([]ScoredChunk, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := s.chunks.Chunk(h.ID)
		if !ok {
			continue
		}
		out = append(out, ScoredChunk{Score: float64(h.Score), Chunk: c})
	}
	return out, nil
}

// BM25Searcher adapts the in-memory BM25Index to LexicalSearcher. The index
// must have been fitted on the contents of chunks, in the same order.
type BM25Searcher struct {
	index  *store.BM25Index
	chunks []*store.Chunk
}

var _ LexicalSearcher = (*BM25Searcher)(nil)

// NewBM25Searcher pairs a fitted index with its corpus.
func NewBM25Searcher(index *store.BM25Index, chunks []*store.Chunk) (*BM25Searcher, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if index.Len() != len(chunks) {
		return nil, fmt.Errorf("bm25 index has %d documents, corpus has %d chunks", index.Len(), len(chunks))
	}
	return &BM25Searcher{index: index, chunks: chunks}, nil
}

// Search ranks every chunk and returns up to limit positive hits inside the
// category filter, best first.
func (s *BM25Searcher) Search(ctx context.Context, query string, limit int, categories []string) ([]*store.LexicalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := s.index.TopN(query, 0)
	out := make([]*store.LexicalResult, 0, min(len(hits), max(limit, 0)))
	for _, h := range hits {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := s.chunks[h.Index]
		if !c.HasCategory(categories) {
			continue
		}
		out = append(out, &store.LexicalResult{ChunkID: c.ID, Score: h.Score})
	}
	return out, nil
}
