package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/search"
)

// fakeSearcher returns canned ids per query and records options.
type fakeSearcher struct {
	results map[string][]string
	err     error
	last    search.Options
}

func (f *fakeSearcher) HybridSearch(_ context.Context, query string, opts search.Options) ([]*search.SearchResult, error) {
	f.last = opts
	if f.err != nil {
		return nil, f.err
	}
	var out []*search.SearchResult
	for _, id := range f.results[query] {
		out = append(out, &search.SearchResult{ChunkID: id})
	}
	return out, nil
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		got        []string
		expected   []string
		wantRank   int
		wantRecall float64
	}{
		{"first", []string{"a", "b"}, []string{"a"}, 1, 1},
		{"third", []string{"x", "y", "a"}, []string{"a"}, 3, 1},
		{"partial", []string{"x", "b", "y"}, []string{"a", "b"}, 2, 0.5},
		{"missing", []string{"x"}, []string{"a"}, 0, 0},
		{"duplicate hit counted once", []string{"a", "a"}, []string{"a", "b"}, 1, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank, recall := score(tt.got, tt.expected)
			assert.Equal(t, tt.wantRank, rank)
			assert.InDelta(t, tt.wantRecall, recall, 1e-9)
		})
	}
}

func TestRunQuery_TruncatesToK(t *testing.T) {
	// Given: the expected chunk ranked fourth
	s := &fakeSearcher{results: map[string][]string{"q": {"a", "b", "c", "d"}}}
	v := New(s)

	// When: scoring at k=3
	r := v.RunQuery(context.Background(), QuerySpec{ID: "R1", Query: "q", Expected: []string{"d"}}, 3)

	// Then: the hit is outside the cutoff
	assert.False(t, r.Passed)
	assert.Equal(t, []string{"a", "b", "c"}, r.TopResults)
	assert.Zero(t, r.MatchedAt)
}

func TestRunQuery_AppliesFilters(t *testing.T) {
	s := &fakeSearcher{results: map[string][]string{"rx": {"v1"}}}
	v := New(s)

	r := v.RunQuery(context.Background(), QuerySpec{
		ID: "R2", Query: "rx", Expected: []string{"v1"},
		Categories: []string{"verilog"}, Sources: []string{"bm25"},
	}, 5)

	assert.True(t, r.Passed)
	assert.Equal(t, 1, r.MatchedAt)
	assert.Equal(t, []string{"verilog"}, s.last.Categories)
	assert.True(t, s.last.UseBM25)
	assert.False(t, s.last.UseEmbedding)
	assert.False(t, s.last.UseGraph)
}

func TestRunQuery_Errors(t *testing.T) {
	t.Run("unknown source", func(t *testing.T) {
		v := New(&fakeSearcher{})
		r := v.RunQuery(context.Background(), QuerySpec{ID: "R", Query: "q", Expected: []string{"a"}, Sources: []string{"grep"}}, 5)
		assert.False(t, r.Passed)
		assert.NotEmpty(t, r.Error)
	})

	t.Run("search failure", func(t *testing.T) {
		v := New(&fakeSearcher{err: errors.New("no index snapshot loaded")})
		r := v.RunQuery(context.Background(), QuerySpec{ID: "R", Query: "q", Expected: []string{"a"}}, 5)
		assert.False(t, r.Passed)
		assert.Equal(t, "no index snapshot loaded", r.Error)
	})
}

func TestRun_Report(t *testing.T) {
	// Given: one hit at rank 1, one at rank 2, one miss
	s := &fakeSearcher{results: map[string][]string{
		"q1": {"a", "x"},
		"q2": {"x", "b"},
		"q3": {"x", "y"},
	}}
	decide := func(_ context.Context, q string) (gate.Decision, error) {
		if q == "relevant" {
			return gate.Decision{Use: true, Tier: gate.TierHigh, TopScore: 0.9}, nil
		}
		return gate.Decision{Tier: gate.TierLow, TopScore: 0.1}, nil
	}
	v := New(s, WithDecider(decide), WithConcurrency(2))
	suite := &Suite{
		K: 2,
		Retrieval: []QuerySpec{
			{ID: "R1", Query: "q1", Expected: []string{"a"}},
			{ID: "R2", Query: "q2", Expected: []string{"b"}},
			{ID: "R3", Query: "q3", Expected: []string{"c"}},
		},
		Gate: []GateSpec{
			{ID: "G1", Query: "relevant", Use: true},
			{ID: "G2", Query: "weather", Use: false},
			{ID: "G3", Query: "weather", Use: true},
		},
		Negative: []QuerySpec{{ID: "N1", Query: ""}},
	}

	// When: running the suite
	report, err := v.Run(context.Background(), suite)

	// Then: results keep suite order and the aggregates add up
	require.NoError(t, err)
	assert.Equal(t, 2, report.K)
	require.Len(t, report.Retrieval, 3)
	assert.Equal(t, "R3", report.Retrieval[2].ID)
	assert.Equal(t, 2, report.RetrievalPass)
	assert.InDelta(t, 2.0/3.0, report.MeanRecall, 1e-9)
	assert.InDelta(t, (1+0.5)/3.0, report.MRR, 1e-9)
	assert.Equal(t, 2, report.GatePass)
	assert.Equal(t, gate.TierLow, report.Gate[2].Tier)
	assert.Equal(t, 1, report.NegativePass)
	assert.False(t, report.Passed())
}

func TestRun_GateSkippedWithoutDecider(t *testing.T) {
	v := New(&fakeSearcher{})
	suite := &Suite{K: 5, Gate: []GateSpec{{ID: "G1", Query: "x", Use: true}}}

	report, err := v.Run(context.Background(), suite)

	require.NoError(t, err)
	assert.True(t, report.GateSkipped)
	assert.Empty(t, report.Gate)
	assert.True(t, report.Passed())
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := New(&fakeSearcher{})

	_, err := v.Run(ctx, &Suite{K: 5, Negative: []QuerySpec{{ID: "N1", Query: "x"}}})

	assert.ErrorIs(t, err, context.Canceled)
}
