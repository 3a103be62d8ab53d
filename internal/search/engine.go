package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/store"
	"github.com/Aman-CERP/verirag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// errSourcePanic marks a source call that panicked.
var errSourcePanic = errors.New("source panicked")

// Failure reasons reported to telemetry.
const (
	reasonError       = "error"
	reasonTimeout     = "timeout"
	reasonPanic       = "panic"
	reasonCircuitOpen = "circuit_open"
)

// Engine fuses embedding, BM25 and graph candidates into one ranking.
//
// Every source is optional. A source that errors, panics or exceeds
// SourceTimeout contributes nothing to that query and the others carry on;
// HybridSearch itself only fails when the caller's context is done.
// Engine is read-only after construction and safe for concurrent use.
type Engine struct {
	chunks    ChunkLookup
	config    EngineConfig
	fusion    Fusion
	embedding EmbeddingSearcher
	lexical   LexicalSearcher
	graph     *graph.Graph
	metrics   *telemetry.Metrics
	breakers  map[string]*verrors.CircuitBreaker
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithEmbedding sets the dense-retrieval source.
func WithEmbedding(s EmbeddingSearcher) EngineOption {
	return func(e *Engine) {
		e.embedding = s
	}
}

// WithLexical sets the lexical source.
func WithLexical(s LexicalSearcher) EngineOption {
	return func(e *Engine) {
		e.lexical = s
	}
}

// WithGraph sets the document graph used for expansion.
func WithGraph(g *graph.Graph) EngineOption {
	return func(e *Engine) {
		e.graph = g
	}
}

// WithMetrics sets an optional telemetry sink.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithFusion overrides the strategy selected by EngineConfig.Fusion.
func WithFusion(f Fusion) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.fusion = f
		}
	}
}

// NewEngine creates a hybrid search engine over the given chunks.
func NewEngine(chunks ChunkLookup, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk lookup is required", ErrNilDependency)
	}
	config = config.withDefaults()

	fusion, err := NewFusion(config.Fusion, config.RRFConstant)
	if err != nil {
		return nil, verrors.ConfigError("invalid retrieval.fusion", err).
			WithSuggestion(fmt.Sprintf("Set retrieval.fusion to %q or %q", FusionRRF, FusionWeightedSum))
	}

	e := &Engine{
		chunks:   chunks,
		config:   config,
		fusion:   fusion,
		breakers: make(map[string]*verrors.CircuitBreaker, 3),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, source := range []string{SourceEmbedding, SourceBM25, SourceGraph} {
		e.breakers[source] = verrors.NewCircuitBreaker(source,
			verrors.WithMaxFailures(config.BreakerFailures),
			verrors.WithResetTimeout(config.BreakerReset))
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// FusionName returns the active fusion strategy's name.
func (e *Engine) FusionName() string {
	return e.fusion.Name()
}

// Graph returns the document graph, or nil when expansion is not wired.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// SourceHealth reports each wired source's circuit breaker state.
func (e *Engine) SourceHealth() map[string]string {
	health := make(map[string]string, 3)
	if e.embedding != nil {
		health[SourceEmbedding] = e.breakers[SourceEmbedding].State().String()
	}
	if e.lexical != nil {
		health[SourceBM25] = e.breakers[SourceBM25].State().String()
	}
	if e.graph != nil {
		health[SourceGraph] = e.breakers[SourceGraph].State().String()
	}
	return health
}

// sourceOutcome is what one source produced for one query.
type sourceOutcome struct {
	candidates []Candidate
	answered   bool
}

// HybridSearch runs the enabled sources, fuses their ranked lists and
// returns at most opts.Limit results, best first. A blank query returns an
// empty list without touching any source.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts Options) ([]*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []*SearchResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	limit := e.resolveLimit(opts.Limit)
	overFetch := max(limit, e.config.CandidatePool)

	// Chunks seen by any source, for building results.
	found := newChunkSet(e.chunks)

	var emb, lex sourceOutcome
	searchEmbedding := func(ctx context.Context) {
		if !opts.UseEmbedding || e.embedding == nil {
			return
		}
		emb = e.runSource(ctx, SourceEmbedding, func(ctx context.Context) ([]Candidate, error) {
			hits, err := e.embedding.Search(ctx, query, overFetch)
			if err != nil {
				return nil, err
			}
			return embeddingCandidates(hits, opts.Categories), nil
		})
	}
	searchLexical := func(ctx context.Context) {
		if !opts.UseBM25 || e.lexical == nil {
			return
		}
		lex = e.runSource(ctx, SourceBM25, func(ctx context.Context) ([]Candidate, error) {
			hits, err := e.lexical.Search(ctx, query, overFetch, opts.Categories)
			if err != nil {
				return nil, err
			}
			return lexicalCandidates(hits, e.chunks, opts.Categories), nil
		})
	}

	if e.config.Sequential {
		searchEmbedding(ctx)
		searchLexical(ctx)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			searchEmbedding(gctx)
			return nil
		})
		g.Go(func() error {
			searchLexical(gctx)
			return nil
		})
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Embedding hits carry their own chunk; register them so results can
	// be built even if the lookup lags behind the vector store.
	if opts.UseEmbedding && e.embedding != nil {
		found.addEmbedding(emb.candidates)
	}

	var gr sourceOutcome
	if opts.UseGraph && e.graph != nil {
		hops := opts.GraphHops
		if hops <= 0 {
			hops = e.config.DefaultGraphHops
		}
		seeds := graphSeeds(emb.candidates, lex.candidates, e.config.GraphSeeds)
		gr = e.runSource(ctx, SourceGraph, func(ctx context.Context) ([]Candidate, error) {
			return e.expand(seeds, hops, opts.Categories), nil
		})
	}
	distances := make(map[string]int, len(gr.candidates))
	for _, c := range gr.candidates {
		distances[c.ChunkID] = c.distance
	}

	lists := make([]RankedList, 0, 3)
	if len(emb.candidates) > 0 {
		lists = append(lists, RankedList{Source: SourceEmbedding, Weight: e.config.Weights.Embedding, Candidates: emb.candidates})
	}
	if len(lex.candidates) > 0 {
		lists = append(lists, RankedList{Source: SourceBM25, Weight: e.config.Weights.BM25, Candidates: lex.candidates})
	}
	if len(gr.candidates) > 0 {
		lists = append(lists, RankedList{Source: SourceGraph, Weight: e.config.Weights.Graph, Candidates: gr.candidates})
	}

	fused := e.fusion.Fuse(lists)
	SortFused(fused)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	maxScore := e.maxScore(emb.answered, lex.answered, gr.answered)
	results := make([]*SearchResult, 0, len(fused))
	for _, f := range fused {
		c, ok := found.get(f.ChunkID)
		if !ok {
			continue
		}
		results = append(results, newSearchResult(f, c, maxScore, distances))
	}

	elapsed := time.Since(start)
	e.metrics.ObserveSearch(query, len(results), elapsed)
	slog.Debug("hybrid_search",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Int("embedding", len(emb.candidates)),
		slog.Int("bm25", len(lex.candidates)),
		slog.Int("graph", len(gr.candidates)),
		slog.String("fusion", e.fusion.Name()),
		slog.Duration("latency", elapsed))

	return results, nil
}

func (e *Engine) resolveLimit(limit int) int {
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	return min(limit, e.config.MaxLimit)
}

// maxScore is the fused score of a chunk ranked first by every direct
// source that answered. When neither direct source answered, the graph
// weight is the scale.
func (e *Engine) maxScore(embAnswered, lexAnswered, graphAnswered bool) float64 {
	var weights []float64
	if embAnswered {
		weights = append(weights, e.config.Weights.Embedding)
	}
	if lexAnswered {
		weights = append(weights, e.config.Weights.BM25)
	}
	if len(weights) == 0 && graphAnswered {
		weights = append(weights, e.config.Weights.Graph)
	}
	return e.fusion.MaxScore(weights...)
}

// runSource calls fetch through the source's circuit breaker with the
// per-source timeout. Any failure is logged and counted, and the source
// contributes nothing.
func (e *Engine) runSource(ctx context.Context, source string, fetch func(context.Context) ([]Candidate, error)) sourceOutcome {
	start := time.Now()

	sctx := ctx
	if e.config.SourceTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, e.config.SourceTimeout)
		defer cancel()
	}

	cands, err := verrors.CircuitDo(e.breakers[source], func() ([]Candidate, error) {
		return callSource(sctx, fetch)
	})
	if err != nil {
		reason := failureReason(err)
		slog.Warn("source_failed",
			append(verrors.LogAttrs(verrors.SourceUnavailable(source, err)),
				slog.String("reason", reason),
				slog.Duration("elapsed", time.Since(start)))...)
		e.metrics.SourceFailed(source, reason)
		return sourceOutcome{}
	}

	e.metrics.ObserveSource(source, len(cands), time.Since(start))
	return sourceOutcome{candidates: cands, answered: true}
}

// callSource runs fetch on its own goroutine so that a source ignoring its
// context still cannot hold the query past the deadline, and turns a panic
// into an error.
func callSource(ctx context.Context, fetch func(context.Context) ([]Candidate, error)) ([]Candidate, error) {
	type result struct {
		cands []Candidate
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", errSourcePanic, r)}
			}
		}()
		cands, err := fetch(ctx)
		done <- result{cands: cands, err: err}
	}()

	select {
	case r := <-done:
		return r.cands, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, verrors.ErrCircuitOpen):
		return reasonCircuitOpen
	case errors.Is(err, errSourcePanic):
		return reasonPanic
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	default:
		return reasonError
	}
}

// graphSeeds picks the top n embedding hits, or the top n lexical hits when
// the embedding list is empty.
func graphSeeds(emb, lex []Candidate, n int) []string {
	src := emb
	if len(src) == 0 {
		src = lex
	}
	seeds := make([]string, 0, min(n, len(src)))
	for _, c := range src {
		if len(seeds) >= n {
			break
		}
		seeds = append(seeds, c.ChunkID)
	}
	return seeds
}

// expand walks the graph from each seed and returns the reached chunks
// ordered by (distance asc, discovery order), keeping each chunk's minimum
// distance over all seeds.
func (e *Engine) expand(seeds []string, hops int, categories []string) []Candidate {
	type reached struct {
		id       string
		distance int
		order    int
	}

	byID := make(map[string]*reached)
	var all []*reached
	for _, seed := range seeds {
		for _, rel := range e.graph.TraverseRelated(graph.NodeID(seed), hops) {
			id := graph.ChunkID(rel.NodeID)
			if r, ok := byID[id]; ok {
				r.distance = min(r.distance, rel.Distance)
				continue
			}
			c, ok := e.chunks.Chunk(id)
			if !ok || !c.HasCategory(categories) {
				continue
			}
			r := &reached{id: id, distance: rel.Distance, order: len(all)}
			byID[id] = r
			all = append(all, r)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].distance != all[j].distance {
			return all[i].distance < all[j].distance
		}
		return all[i].order < all[j].order
	})

	cands := make([]Candidate, len(all))
	for i, r := range all {
		cands[i] = Candidate{ChunkID: r.id, Score: 1 / (1 + float64(r.distance)), distance: r.distance}
	}
	return cands
}

func embeddingCandidates(hits []ScoredChunk, categories []string) []Candidate {
	cands := make([]Candidate, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if h.Chunk == nil || seen[h.Chunk.ID] || !h.Chunk.HasCategory(categories) {
			continue
		}
		seen[h.Chunk.ID] = true
		cands = append(cands, Candidate{ChunkID: h.Chunk.ID, Score: h.Score, chunk: h.Chunk})
	}
	return cands
}

// lexicalCandidates drops unknown chunks and zero scores: a chunk sharing no
// term with the query is not a lexical hit.
func lexicalCandidates(hits []*store.LexicalResult, chunks ChunkLookup, categories []string) []Candidate {
	cands := make([]Candidate, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if h == nil || h.Score <= 0 || seen[h.ChunkID] {
			continue
		}
		c, ok := chunks.Chunk(h.ChunkID)
		if !ok || !c.HasCategory(categories) {
			continue
		}
		seen[h.ChunkID] = true
		cands = append(cands, Candidate{ChunkID: h.ChunkID, Score: h.Score})
	}
	return cands
}

func newSearchResult(f *Fused, c *store.Chunk, maxScore float64, distances map[string]int) *SearchResult {
	r := &SearchResult{
		ChunkID:   c.ID,
		Content:   c.Content,
		FilePath:  c.FilePath,
		ChunkType: c.ChunkType,
		Category:  c.Category,
		Title:     c.SectionTitle(),
		Score:     f.Score,
		Sources:   f.Contributions,
		RawScores: f.RawScores,
		Chunk:     c,
	}
	if maxScore > 0 {
		r.Confidence = min(1, f.Score/maxScore)
	}

	_, viaEmb := f.Contributions[SourceEmbedding]
	_, viaLex := f.Contributions[SourceBM25]
	if !viaEmb && !viaLex {
		r.Distance = distances[f.ChunkID]
	}
	return r
}

// chunkSet resolves result chunks from embedding hits first, then the
// lookup.
type chunkSet struct {
	lookup ChunkLookup
	extra  map[string]*store.Chunk
}

func newChunkSet(lookup ChunkLookup) *chunkSet {
	return &chunkSet{lookup: lookup, extra: make(map[string]*store.Chunk)}
}

func (s *chunkSet) addEmbedding(cands []Candidate) {
	for _, c := range cands {
		if c.chunk != nil {
			s.extra[c.ChunkID] = c.chunk
		}
	}
}

func (s *chunkSet) get(id string) (*store.Chunk, bool) {
	if c, ok := s.extra[id]; ok {
		return c, true
	}
	return s.lookup.Chunk(id)
}
