// Package search provides hybrid retrieval over the chunk corpus. Dense
// embedding similarity, BM25 lexical scoring and document-graph expansion
// each produce a ranked candidate list; a Fusion strategy (weighted
// Reciprocal Rank Fusion by default) merges them into one ranking.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/verirag/internal/store"
)

// Source names, used as keys of SearchResult.Sources and RawScores.
const (
	SourceEmbedding = "embedding"
	SourceBM25      = "bm25"
	SourceGraph     = "graph"
)

// Options configures one HybridSearch call.
type Options struct {
	// Limit is the maximum number of results (default: 10, max: EngineConfig.MaxLimit).
	Limit int

	UseEmbedding bool
	UseBM25      bool
	UseGraph     bool

	// GraphHops is the expansion depth from each seed (default: 2).
	GraphHops int

	// Categories restricts every source to chunks of these categories.
	// Empty means no filter.
	Categories []string
}

// DefaultOptions enables all three sources with two graph hops.
func DefaultOptions() Options {
	return Options{
		Limit:        10,
		UseEmbedding: true,
		UseBM25:      true,
		UseGraph:     true,
		GraphHops:    2,
	}
}

// Weights are the per-source fusion weights.
type Weights struct {
	Embedding float64 `yaml:"embedding" json:"embedding"`
	BM25      float64 `yaml:"bm25" json:"bm25"`
	Graph     float64 `yaml:"graph" json:"graph"`
}

// DefaultWeights favours dense similarity slightly over the lexical and
// structural signals.
func DefaultWeights() Weights {
	return Weights{Embedding: 0.4, BM25: 0.3, Graph: 0.3}
}

// For returns the weight of a source name.
func (w Weights) For(source string) float64 {
	switch source {
	case SourceEmbedding:
		return w.Embedding
	case SourceBM25:
		return w.BM25
	case SourceGraph:
		return w.Graph
	default:
		return 0
	}
}

// SearchResult is one fused, ranked chunk.
type SearchResult struct {
	ChunkID   string `json:"chunk_id"`
	Content   string `json:"content"`
	FilePath  string `json:"file_path"`
	ChunkType string `json:"chunk_type"`
	Category  string `json:"category"`
	Title     string `json:"title,omitempty"`

	// Score is the fused score as produced by the Fusion strategy.
	Score float64 `json:"score"`

	// Confidence is Score divided by the best score the answering direct
	// sources (embedding, bm25) could have produced together, clipped to
	// [0, 1]. 1.0 means the chunk ranked first in every direct source.
	Confidence float64 `json:"confidence"`

	// Sources holds each source's contribution to Score.
	Sources map[string]float64 `json:"sources"`

	// RawScores holds each source's native score (cosine similarity, BM25
	// magnitude, 1/(1+hops)) for explanation.
	RawScores map[string]float64 `json:"raw_scores,omitempty"`

	// Distance is 0 for chunks found directly and the minimum hop count for
	// chunks only reached through graph expansion.
	Distance int `json:"distance"`

	Chunk *store.Chunk `json:"-"`
}

// ScoredChunk is one hit from the embedding collaborator.
type ScoredChunk struct {
	Score float64
	Chunk *store.Chunk
}

// EmbeddingSearcher is the dense-retrieval collaborator. Results are ordered
// best first.
type EmbeddingSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]ScoredChunk, error)
}

// LexicalSearcher ranks chunks lexically. store.BleveLexicalIndex and
// BM25Searcher both satisfy it.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int, categories []string) ([]*store.LexicalResult, error)
}

// ChunkLookup resolves chunk ids to chunks.
type ChunkLookup interface {
	Chunk(id string) (*store.Chunk, bool)
}

// ChunkMap is an in-memory ChunkLookup.
type ChunkMap map[string]*store.Chunk

// NewChunkMap indexes chunks by id.
func NewChunkMap(chunks []*store.Chunk) ChunkMap {
	m := make(ChunkMap, len(chunks))
	for _, c := range chunks {
		m[c.ID] = c
	}
	return m
}

// Chunk implements ChunkLookup.
func (m ChunkMap) Chunk(id string) (*store.Chunk, bool) {
	c, ok := m[id]
	return c, ok
}

// Fusion strategy names accepted by EngineConfig.Fusion.
const (
	FusionRRF         = "rrf"
	FusionWeightedSum = "weighted_sum"
)

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultLimit applies when Options.Limit is zero (default: 10).
	DefaultLimit int

	// MaxLimit caps Options.Limit (default: 100).
	MaxLimit int

	// CandidatePool is the minimum per-source over-fetch (default: 20).
	CandidatePool int

	// GraphSeeds is how many top hits seed graph expansion (default: 3).
	GraphSeeds int

	// DefaultGraphHops applies when Options.GraphHops is zero (default: 2).
	DefaultGraphHops int

	Weights Weights

	// Fusion is "rrf" (default) or "weighted_sum".
	Fusion string

	// RRFConstant is the RRF smoothing constant k (default: 60).
	RRFConstant int

	// SourceTimeout bounds each source call; zero disables (default: 5s).
	SourceTimeout time.Duration

	// Sequential runs the sources one after another instead of in parallel.
	Sequential bool

	// BreakerFailures consecutive failures open a source's circuit (default: 5).
	BreakerFailures int

	// BreakerReset is the open-circuit cool-down (default: 30s).
	BreakerReset time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:     10,
		MaxLimit:         100,
		CandidatePool:    20,
		GraphSeeds:       3,
		DefaultGraphHops: 2,
		Weights:          DefaultWeights(),
		Fusion:           FusionRRF,
		RRFConstant:      DefaultRRFConstant,
		SourceTimeout:    5 * time.Second,
		BreakerFailures:  5,
		BreakerReset:     30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.CandidatePool <= 0 {
		c.CandidatePool = d.CandidatePool
	}
	if c.GraphSeeds <= 0 {
		c.GraphSeeds = d.GraphSeeds
	}
	if c.DefaultGraphHops <= 0 {
		c.DefaultGraphHops = d.DefaultGraphHops
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Fusion == "" {
		c.Fusion = d.Fusion
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = d.BreakerReset
	}
	return c
}

// WithSources returns o with exactly the named sources enabled. Names are
// matched case-insensitively; no names enables all three.
func (o Options) WithSources(names []string) (Options, error) {
	if len(names) == 0 {
		o.UseEmbedding, o.UseBM25, o.UseGraph = true, true, true
		return o, nil
	}
	o.UseEmbedding, o.UseBM25, o.UseGraph = false, false, false
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case SourceEmbedding:
			o.UseEmbedding = true
		case SourceBM25:
			o.UseBM25 = true
		case SourceGraph:
			o.UseGraph = true
		default:
			return o, fmt.Errorf("unknown source %q (want embedding, bm25 or graph)", n)
		}
	}
	return o, nil
}
