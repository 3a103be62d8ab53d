package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/store"
	"github.com/Aman-CERP/verirag/internal/telemetry"
)

// fakeEmbedding returns fixed hits, or runs fn when set.
type fakeEmbedding struct {
	hits  []ScoredChunk
	fn    func(ctx context.Context) ([]ScoredChunk, error)
	calls atomic.Int32
}

func (f *fakeEmbedding) Search(ctx context.Context, _ string, limit int) ([]ScoredChunk, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

// fakeLexical returns fixed hits, or runs fn when set.
type fakeLexical struct {
	hits  []*store.LexicalResult
	fn    func(ctx context.Context) ([]*store.LexicalResult, error)
	calls atomic.Int32
}

func (f *fakeLexical) Search(ctx context.Context, _ string, _ int, _ []string) ([]*store.LexicalResult, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	return f.hits, nil
}

func section(id, sectionID, title string) *store.Chunk {
	return &store.Chunk{
		ID:        id,
		Category:  store.CategorySpec,
		ChunkType: "section",
		Content:   title,
		Metadata: map[string]any{
			store.MetaSectionID:    sectionID,
			store.MetaSectionTitle: title,
		},
	}
}

func testCorpus() []*store.Chunk {
	return []*store.Chunk{
		section("c2", "2", "Transaction Layer"),
		section("c21", "2.1", "TLP Overview"),
		section("c211", "2.1.1", "TLP Header"),
		section("c3", "3", "Data Link Layer"),
		{ID: "v1", Category: store.CategoryVerilog, ChunkType: "module", Content: "module tlp_rx;"},
	}
}

func emb(chunks ChunkMap, ids ...string) []ScoredChunk {
	hits := make([]ScoredChunk, len(ids))
	for i, id := range ids {
		hits[i] = ScoredChunk{Score: 1 - float64(i)*0.1, Chunk: chunks[id]}
	}
	return hits
}

func lex(ids ...string) []*store.LexicalResult {
	hits := make([]*store.LexicalResult, len(ids))
	for i, id := range ids {
		hits[i] = &store.LexicalResult{ChunkID: id, Score: float64(len(ids)-i) + 1}
	}
	return hits
}

func resultIDs(results []*SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func newTestEngine(t *testing.T, cfg EngineConfig, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(NewChunkMap(testCorpus()), cfg, opts...)
	require.NoError(t, err)
	return e
}

func directOnly() Options {
	o := DefaultOptions()
	o.UseGraph = false
	return o
}

func TestNewEngine_RequiresChunks(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilDependency)
}

func TestNewEngine_RejectsUnknownFusion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fusion = "borda"
	_, err := NewEngine(ChunkMap{}, cfg)
	require.Error(t, err)
}

func TestHybridSearch_EmptyQueryTouchesNoSource(t *testing.T) {
	// Given: an engine with both direct sources
	e1 := &fakeEmbedding{}
	l1 := &fakeLexical{}
	e := newTestEngine(t, DefaultConfig(), WithEmbedding(e1), WithLexical(l1))

	for _, q := range []string{"", "   ", "\t\n"} {
		// When: searching a blank query
		results, err := e.HybridSearch(context.Background(), q, DefaultOptions())

		// Then: empty list, no error, no source called
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	assert.Zero(t, e1.calls.Load())
	assert.Zero(t, l1.calls.Load())
}

func TestHybridSearch_FusesBothSources(t *testing.T) {
	// Given: embedding ranks c21, c3; BM25 ranks c3, c211
	chunks := NewChunkMap(testCorpus())
	e := newTestEngine(t, DefaultConfig(),
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "c21", "c3")}),
		WithLexical(&fakeLexical{hits: lex("c3", "c211")}))

	// When: searching without graph expansion
	results, err := e.HybridSearch(context.Background(), "tlp", directOnly())
	require.NoError(t, err)

	// Then: c3 (found by both) wins; scores follow weighted RRF
	require.Equal(t, []string{"c3", "c21", "c211"}, resultIDs(results))
	assert.InDelta(t, 0.4/62+0.3/61, results[0].Score, 1e-12)
	assert.InDelta(t, 0.4/62, results[0].Sources[SourceEmbedding], 1e-12)
	assert.InDelta(t, 0.3/61, results[0].Sources[SourceBM25], 1e-12)
	assert.Equal(t, 3.0, results[0].RawScores[SourceBM25])
	assert.Equal(t, "Data Link Layer", results[0].Title)
	assert.Zero(t, results[0].Distance)

	// Confidence is relative to ranking first in both direct sources
	maxScore := 0.4/61 + 0.3/61
	assert.InDelta(t, results[0].Score/maxScore, results[0].Confidence, 1e-12)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestHybridSearch_SingleSourceDegeneratesToItsRanking(t *testing.T) {
	// Given: only BM25 enabled
	e := newTestEngine(t, DefaultConfig(),
		WithLexical(&fakeLexical{hits: lex("c211", "c2", "c3")}))
	opts := Options{Limit: 10, UseBM25: true}

	// When: searching
	results, err := e.HybridSearch(context.Background(), "header", opts)
	require.NoError(t, err)

	// Then: BM25 order is preserved and the top hit has full confidence
	assert.Equal(t, []string{"c211", "c2", "c3"}, resultIDs(results))
	assert.InDelta(t, 1.0, results[0].Confidence, 1e-12)
	assert.Less(t, results[1].Confidence, 1.0)
}

func TestHybridSearch_LimitAndDefaults(t *testing.T) {
	chunks := NewChunkMap(testCorpus())
	e := newTestEngine(t, EngineConfig{MaxLimit: 2},
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "c2", "c21", "c211", "c3")}))

	results, err := e.HybridSearch(context.Background(), "layer", Options{Limit: 50, UseEmbedding: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c21"}, resultIDs(results))
}

func TestHybridSearch_SourceFailureDegrades(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(ctx context.Context) ([]ScoredChunk, error)
		reason string
	}{
		{
			name:   "error",
			reason: "error",
			fn: func(context.Context) ([]ScoredChunk, error) {
				return nil, errors.New("connection refused")
			},
		},
		{
			name:   "panic",
			reason: "panic",
			fn: func(context.Context) ([]ScoredChunk, error) {
				panic("index corrupted")
			},
		},
		{
			name:   "timeout",
			reason: "timeout",
			fn: func(ctx context.Context) ([]ScoredChunk, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		{
			name:   "timeout ignoring context",
			reason: "timeout",
			fn: func(context.Context) ([]ScoredChunk, error) {
				time.Sleep(500 * time.Millisecond)
				return nil, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a failing embedding source and a healthy BM25 source
			cfg := DefaultConfig()
			cfg.SourceTimeout = 50 * time.Millisecond
			m := telemetry.NewMetrics()
			e := newTestEngine(t, cfg,
				WithEmbedding(&fakeEmbedding{fn: tt.fn}),
				WithLexical(&fakeLexical{hits: lex("c3", "c2")}),
				WithMetrics(m))

			// When: searching
			results, err := e.HybridSearch(context.Background(), "layer", directOnly())

			// Then: no error, BM25 results only, and the top hit is
			// confident because only BM25 answered
			require.NoError(t, err)
			assert.Equal(t, []string{"c3", "c2"}, resultIDs(results))
			assert.NotContains(t, results[0].Sources, SourceEmbedding)
			assert.InDelta(t, 1.0, results[0].Confidence, 1e-12)
			assert.Equal(t, int64(1), m.Queries().Snapshot().TotalQueries)

			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			assert.Contains(t, rec.Body.String(),
				`verirag_source_failures_total{reason="`+tt.reason+`",source="embedding"} 1`)
		})
	}
}

func TestHybridSearch_AllSourcesFailReturnsEmpty(t *testing.T) {
	boom := func(context.Context) ([]*store.LexicalResult, error) { return nil, errors.New("boom") }
	e := newTestEngine(t, DefaultConfig(),
		WithEmbedding(&fakeEmbedding{fn: func(context.Context) ([]ScoredChunk, error) { return nil, errors.New("boom") }}),
		WithLexical(&fakeLexical{fn: boom}))

	results, err := e.HybridSearch(context.Background(), "anything", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridSearch_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	// Given: a breaker that opens after one failure
	cfg := DefaultConfig()
	cfg.BreakerFailures = 1
	cfg.BreakerReset = time.Hour
	failing := &fakeEmbedding{fn: func(context.Context) ([]ScoredChunk, error) {
		return nil, errors.New("down")
	}}
	e := newTestEngine(t, cfg, WithEmbedding(failing), WithLexical(&fakeLexical{hits: lex("c2")}))

	// When: searching twice
	for range 2 {
		results, err := e.HybridSearch(context.Background(), "layer", directOnly())
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, resultIDs(results))
	}

	// Then: the second query skipped the open source
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, "open", e.SourceHealth()[SourceEmbedding])
	assert.Equal(t, "closed", e.SourceHealth()[SourceBM25])
}

func TestHybridSearch_CancelledContext(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), WithLexical(&fakeLexical{hits: lex("c2")}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.HybridSearch(ctx, "layer", DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestHybridSearch_CategoryFilterAppliesToEverySource(t *testing.T) {
	// Given: both sources return the verilog chunk
	chunks := NewChunkMap(testCorpus())
	e := newTestEngine(t, DefaultConfig(),
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "v1", "c2")}),
		WithLexical(&fakeLexical{hits: lex("v1", "c3")}))
	opts := directOnly()
	opts.Categories = []string{store.CategorySpec}

	// When: searching with a spec-only filter
	results, err := e.HybridSearch(context.Background(), "tlp", opts)
	require.NoError(t, err)

	// Then: the verilog chunk is gone
	assert.ElementsMatch(t, []string{"c2", "c3"}, resultIDs(results))
}

func TestHybridSearch_DropsUnknownAndZeroScoredLexicalHits(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), WithLexical(&fakeLexical{hits: []*store.LexicalResult{
		{ChunkID: "ghost", Score: 5},
		{ChunkID: "c2", Score: 2},
		{ChunkID: "c3", Score: 0},
	}}))

	results, err := e.HybridSearch(context.Background(), "layer", directOnly())
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, resultIDs(results))
}

func TestHybridSearch_GraphExpansion(t *testing.T) {
	// Given: a graph over the corpus and an embedding hit on section "2"
	corpus := testCorpus()
	chunks := NewChunkMap(corpus)
	g := graph.New()
	g.BuildFromChunks(corpus, graph.BuildOptions{})
	e := newTestEngine(t, DefaultConfig(),
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "c2")}),
		WithGraph(g))

	// When: searching with two hops
	opts := Options{Limit: 10, UseEmbedding: true, UseGraph: true, GraphHops: 2}
	results, err := e.HybridSearch(context.Background(), "transaction layer", opts)
	require.NoError(t, err)

	// Then: the seed comes first; 2.1 and 2.1.1 follow at their hop distance
	require.Equal(t, []string{"c2", "c21", "c211"}, resultIDs(results))
	assert.Zero(t, results[0].Distance)
	assert.Equal(t, 1, results[1].Distance)
	assert.Equal(t, 2, results[2].Distance)
	assert.InDelta(t, 0.5, results[1].RawScores[SourceGraph], 1e-12)
	assert.InDelta(t, 1.0/3, results[2].RawScores[SourceGraph], 1e-12)
	assert.InDelta(t, 0.3/61, results[1].Sources[SourceGraph], 1e-12)
}

func TestHybridSearch_GraphSeedsFromLexicalWhenEmbeddingEmpty(t *testing.T) {
	corpus := testCorpus()
	g := graph.New()
	g.BuildFromChunks(corpus, graph.BuildOptions{})
	cfg := DefaultConfig()
	cfg.Weights.Graph = 0.2
	e := newTestEngine(t, cfg,
		WithEmbedding(&fakeEmbedding{}),
		WithLexical(&fakeLexical{hits: lex("c211")}),
		WithGraph(g))

	opts := DefaultOptions()
	opts.GraphHops = 1
	results, err := e.HybridSearch(context.Background(), "header", opts)
	require.NoError(t, err)

	// c211's only neighbour within one hop is its parent via child_of
	assert.Equal(t, []string{"c211", "c21"}, resultIDs(results))
	assert.Equal(t, 1, results[1].Distance)
}

func TestHybridSearch_GraphWithoutSeedsFindsNothing(t *testing.T) {
	g := graph.New()
	g.BuildFromChunks(testCorpus(), graph.BuildOptions{})
	e := newTestEngine(t, DefaultConfig(), WithGraph(g))

	results, err := e.HybridSearch(context.Background(), "layer", Options{UseGraph: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridSearch_TieBreakByID(t *testing.T) {
	// Given: equal weights so rank 1 in either list scores the same
	chunks := NewChunkMap(testCorpus())
	cfg := DefaultConfig()
	cfg.Weights = Weights{Embedding: 0.3, BM25: 0.3, Graph: 0.3}
	e := newTestEngine(t, cfg,
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "c3")}),
		WithLexical(&fakeLexical{hits: lex("c2")}))

	results, err := e.HybridSearch(context.Background(), "layer", directOnly())
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, resultIDs(results))
}

func TestHybridSearch_WeightedSumFusion(t *testing.T) {
	chunks := NewChunkMap(testCorpus())
	cfg := DefaultConfig()
	cfg.Fusion = FusionWeightedSum
	e := newTestEngine(t, cfg,
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "c2", "c3")}),
		WithLexical(&fakeLexical{hits: lex("c2", "c3")}))

	results, err := e.HybridSearch(context.Background(), "layer", directOnly())
	require.NoError(t, err)
	require.Equal(t, []string{"c2", "c3"}, resultIDs(results))
	assert.Equal(t, FusionWeightedSum, e.FusionName())
	assert.InDelta(t, 0.7, results[0].Score, 1e-12)
	assert.InDelta(t, 1.0, results[0].Confidence, 1e-12)
}

func TestHybridSearch_SequentialMatchesParallel(t *testing.T) {
	chunks := NewChunkMap(testCorpus())
	opts := []EngineOption{
		WithEmbedding(&fakeEmbedding{hits: emb(chunks, "c21", "c3")}),
		WithLexical(&fakeLexical{hits: lex("c3", "c211")}),
	}
	parallel := newTestEngine(t, DefaultConfig(), opts...)
	seqCfg := DefaultConfig()
	seqCfg.Sequential = true
	sequential := newTestEngine(t, seqCfg, opts...)

	a, err := parallel.HybridSearch(context.Background(), "tlp", directOnly())
	require.NoError(t, err)
	b, err := sequential.HybridSearch(context.Background(), "tlp", directOnly())
	require.NoError(t, err)
	assert.Equal(t, resultIDs(a), resultIDs(b))
}

func TestOptions_WithSources(t *testing.T) {
	tests := []struct {
		name          string
		sources       []string
		emb, lex, gra bool
		wantErr       bool
	}{
		{name: "empty enables all", emb: true, lex: true, gra: true},
		{name: "lexical only", sources: []string{"BM25"}, lex: true},
		{name: "embedding and graph", sources: []string{"embedding", " graph "}, emb: true, gra: true},
		{name: "unknown", sources: []string{"splade"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Options{Limit: 4}.WithSources(tt.sources)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 4, opts.Limit)
			assert.Equal(t, tt.emb, opts.UseEmbedding)
			assert.Equal(t, tt.lex, opts.UseBM25)
			assert.Equal(t, tt.gra, opts.UseGraph)
		})
	}
}
