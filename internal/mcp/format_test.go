package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

func result(id, title string, confidence float64, sources map[string]float64) *search.SearchResult {
	return &search.SearchResult{
		ChunkID:    id,
		Title:      title,
		Category:   store.CategorySpec,
		ChunkType:  "section_h2",
		FilePath:   "pcie.md",
		Content:    "content of " + id,
		Confidence: confidence,
		Sources:    sources,
	}
}

func TestFormatSearchResults_Empty(t *testing.T) {
	assert.Equal(t, `No results found for "tlp"`, FormatSearchResults("tlp", nil))
	assert.Equal(t, `No results found for "tlp"`, FormatSearchResults("tlp", []*search.SearchResult{nil}))
}

func TestFormatSearchResults(t *testing.T) {
	// Given: a direct hit and a graph-only neighbour
	direct := result("c21", "TLP Header", 0.93, map[string]float64{search.SourceBM25: 0.004, search.SourceEmbedding: 0.006})
	expanded := result("c2", "", 0.31, map[string]float64{search.SourceGraph: 0.005})
	expanded.Distance = 1

	// When: formatting
	md := FormatSearchResults("tlp header", []*search.SearchResult{direct, expanded})

	// Then: numbered sections with provenance, strongest source first
	assert.Contains(t, md, "Found 2 results")
	assert.Contains(t, md, "### 1. TLP Header (confidence: 0.93)")
	assert.Contains(t, md, "`c21` · spec/section_h2 · pcie.md")
	assert.Contains(t, md, "**Matched by:** embedding, bm25\n")
	assert.Contains(t, md, "### 2. c2 (confidence: 0.31)")
	assert.Contains(t, md, "**Matched by:** graph (1 hop from a direct hit)")
	assert.Contains(t, md, "```text\ncontent of c21\n```")
}

func TestFormatSearchResults_VerilogFence(t *testing.T) {
	r := result("v1", "", 1, nil)
	r.Category = store.CategoryVerilog

	md := FormatSearchResults("rx", []*search.SearchResult{r})

	assert.Contains(t, md, "Found 1 result\n")
	assert.Contains(t, md, "```verilog\n")
	assert.NotContains(t, md, "Matched by")
}

func TestFormatDecision(t *testing.T) {
	hits := []gate.Hit{gate.Scored{Result: result("c21", "TLP Header", 0.9, nil)}}

	tests := []struct {
		name     string
		decision gate.Decision
		want     []string
		notWant  []string
	}{
		{
			name:     "use",
			decision: gate.Decision{Use: true, Tier: gate.TierHigh, TopScore: 0.9, Results: hits},
			want:     []string{"**Decision:** USE (tier `high`, top score 0.90)", "### Context", "[1] TLP Header (pcie.md) score=0.90"},
			notWant:  []string{"**Judge:**"},
		},
		{
			name:     "judge rejected",
			decision: gate.Decision{Tier: gate.TierJudgeNo, TopScore: 0.6, JudgeCalled: true, JudgeReply: " NO \n", Results: []gate.Hit{}},
			want:     []string{"**Decision:** REJECT", "**Judge:** NO\n", "No context should be injected"},
			notWant:  []string{"### Context"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := FormatDecision("tlp header", tt.decision, gate.DefaultMaxContextChars)
			for _, w := range tt.want {
				assert.Contains(t, md, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, md, nw)
			}
		})
	}
}

func TestFormatDecision_RespectsContextBudget(t *testing.T) {
	long := result("c21", "TLP Header", 0.9, nil)
	long.Content = strings.Repeat("x", 400)
	hits := []gate.Hit{gate.Scored{Result: long}, gate.Scored{Result: long}}

	md := FormatDecision("q", gate.Decision{Use: true, Tier: gate.TierHigh, Results: hits}, 450)

	assert.Contains(t, md, "[1] TLP Header")
	assert.NotContains(t, md, "[2]")
}

func TestFormatDecision_ZeroBudget(t *testing.T) {
	hits := []gate.Hit{gate.Scored{Result: result("c21", "TLP Header", 0.9, nil)}}

	md := FormatDecision("q", gate.Decision{Use: true, Tier: gate.TierHigh, Results: hits}, 0)

	assert.Contains(t, md, "**Decision:** USE")
	assert.Contains(t, md, "No result fits within the context budget.")
	assert.NotContains(t, md, "### Context")
}

func TestFormatRelated(t *testing.T) {
	assert.Equal(t, "No nodes related to `spec_x`", FormatRelated("spec_x", nil))

	md := FormatRelated("spec_c2", []RelatedOutput{
		{NodeID: "spec_c21", SectionID: "2.1", Title: "A | B", Distance: 1, Path: "hierarchy"},
	})

	assert.Contains(t, md, "## Nodes related to `spec_c2`")
	assert.Contains(t, md, "| 1 | `spec_c21` | 2.1 | A \\| B | hierarchy |")
}

func TestToRelatedOutput(t *testing.T) {
	g := graph.New()
	g.AddNode(&graph.Node{ID: "spec_a", Title: "Alpha", SectionID: "1"})

	out := toRelatedOutput(g, []graph.Related{
		{NodeID: "spec_a", Distance: 1, Path: "hierarchy"},
		{NodeID: "spec_gone", Distance: 2, Path: "hierarchy→cross_ref"},
	})

	assert.Equal(t, []RelatedOutput{
		{NodeID: "spec_a", ChunkID: "a", Title: "Alpha", SectionID: "1", Distance: 1, Path: "hierarchy"},
		{NodeID: "spec_gone", ChunkID: "gone", Distance: 2, Path: "hierarchy→cross_ref"},
	}, out)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name                 string
		limit, def, min, max int
		want                 int
	}{
		{"zero uses default", 0, 10, 1, 50, 10},
		{"negative uses default", -3, 10, 1, 50, 10},
		{"within bounds", 7, 10, 1, 50, 7},
		{"above max", 500, 10, 1, 50, 50},
		{"below min", 1, 10, 2, 50, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampLimit(tt.limit, tt.def, tt.min, tt.max))
		})
	}
}

func TestToSearchResultOutput(t *testing.T) {
	assert.Equal(t, SearchResultOutput{}, ToSearchResultOutput(nil))

	r := result("c21", "TLP Header", 0.9, map[string]float64{search.SourceBM25: 0.01})
	r.Score = 0.01
	r.Distance = 0

	out := ToSearchResultOutput(r)

	assert.Equal(t, "c21", out.ChunkID)
	assert.Equal(t, "TLP Header", out.Title)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
	assert.InDelta(t, 0.01, out.Score, 1e-9)
	assert.Equal(t, r.Sources, out.Sources)
}
