package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/store"
)

func specChunk(id, chunkType, sectionID, title string, extra map[string]any) *store.Chunk {
	meta := map[string]any{}
	if sectionID != "" {
		meta[store.MetaSectionID] = sectionID
	}
	if title != "" {
		meta[store.MetaSectionTitle] = title
	}
	for k, v := range extra {
		meta[k] = v
	}
	return &store.Chunk{ID: id, Category: store.CategorySpec, ChunkType: chunkType, Content: title, Metadata: meta}
}

func corpus() []*store.Chunk {
	return []*store.Chunk{
		specChunk("c2", "section_h1", "2", "Transaction Layer", nil),
		specChunk("c21", "section_h2", "2.1", "TLP Overview", map[string]any{store.MetaCrossRefs: []string{"3", "2.1", "9.9"}}),
		specChunk("c211", "section_h3", "2.1.1", "TLP Header", nil),
		specChunk("c3", "section_h1", "3", "Data Link Layer", nil),
		specChunk("t1", store.ChunkTypeTable, "", "", map[string]any{store.MetaParentSection: "TLP Header"}),
		specChunk("cb1", store.ChunkTypeCodeBlock, "", "", map[string]any{store.MetaParentH1: "Data Link Layer"}),
		{ID: "v1", Category: store.CategoryVerilog, ChunkType: "module", Content: "module tlp_rx;"},
	}
}

func built(t *testing.T) *Graph {
	t.Helper()
	g := New()
	g.BuildFromChunks(corpus(), BuildOptions{})
	return g
}

func TestBuildFromChunks_HierarchyEdge(t *testing.T) {
	// Given: section "2" and section "2.1" in the corpus
	chunks := []*store.Chunk{
		specChunk("a", "section_h1", "2", "Transaction Layer", nil),
		specChunk("b", "section_h2", "2.1", "TLP Overview", nil),
	}

	// When: building the graph
	g := New()
	g.BuildFromChunks(chunks, BuildOptions{})

	// Then: "2" -> "2.1" is a hierarchy edge and traversal finds 2.1 at distance 1
	require.Contains(t, g.Neighbors("spec_a"), Edge{Target: "spec_b", Type: EdgeHierarchy, Weight: WeightHierarchy})
	require.Contains(t, g.Neighbors("spec_b"), Edge{Target: "spec_a", Type: EdgeChildOf, Weight: WeightHierarchy})

	related := g.TraverseRelated("spec_a", 1)
	require.Len(t, related, 1)
	assert.Equal(t, Related{NodeID: "spec_b", Distance: 1, Path: "hierarchy"}, related[0])

	n, ok := g.Node("spec_b")
	require.True(t, ok)
	assert.Equal(t, "spec_a", n.ParentID)
}

func TestBuildFromChunks_OnlySpecCategoryByDefault(t *testing.T) {
	g := built(t)

	_, ok := g.Node("spec_v1")
	assert.False(t, ok)
	assert.Equal(t, 6, g.Len())

	all := New()
	all.BuildFromChunks(corpus(), BuildOptions{Categories: []string{"spec", "verilog"}})
	assert.Equal(t, 7, all.Len())
}

func TestBuildFromChunks_CrossRefsSkipSelfAndUnknown(t *testing.T) {
	g := built(t)

	var crossRefs []Edge
	for _, e := range g.Neighbors("spec_c21") {
		if e.Type == EdgeCrossRef {
			crossRefs = append(crossRefs, e)
		}
	}

	require.Len(t, crossRefs, 1)
	assert.Equal(t, Edge{Target: "spec_c3", Type: EdgeCrossRef, Weight: WeightCrossRef}, crossRefs[0])
}

func TestBuildFromChunks_ContainsEdges(t *testing.T) {
	g := built(t)

	assert.Contains(t, g.Neighbors("spec_c211"), Edge{Target: "spec_t1", Type: EdgeContains, Weight: WeightContains})
	assert.Contains(t, g.Neighbors("spec_c3"), Edge{Target: "spec_cb1", Type: EdgeContains, Weight: WeightContains})
}

func TestBuildFromChunks_TitleMapPrefersSections(t *testing.T) {
	chunks := []*store.Chunk{
		specChunk("tbl", store.ChunkTypeTable, "", "Ordering Rules", nil),
		specChunk("sec", "section_h2", "2.4", "Ordering Rules", nil),
		specChunk("tbl2", store.ChunkTypeTable, "", "", map[string]any{store.MetaParentSection: "Ordering Rules"}),
	}
	g := New()
	g.BuildFromChunks(chunks, BuildOptions{})

	assert.Contains(t, g.Neighbors("spec_sec"), Edge{Target: "spec_tbl2", Type: EdgeContains, Weight: WeightContains})
	assert.Empty(t, g.Neighbors("spec_tbl"))
}

func TestBuildFromChunks_Idempotent(t *testing.T) {
	g1, g2 := New(), New()
	g1.BuildFromChunks(corpus(), BuildOptions{})
	g2.BuildFromChunks(corpus(), BuildOptions{})

	assert.Equal(t, g1.Stats(), g2.Stats())
	assert.Equal(t, g1.adjacency, g2.adjacency)
	assert.Equal(t, g1.NodeIDs(), g2.NodeIDs())
}

func TestAddEdge_MissingEndpointIsIgnoredAndCounted(t *testing.T) {
	g := New()
	g.AddNode(&Node{ID: "a"})

	assert.False(t, g.AddEdge("a", "ghost", EdgeCrossRef, WeightCrossRef))
	assert.False(t, g.AddEdge("ghost", "a", EdgeHierarchy, WeightHierarchy))
	assert.Empty(t, g.Neighbors("a"))
	assert.Equal(t, int64(2), g.RejectedEdges())
	assert.Equal(t, int64(2), g.Stats().RejectedEdges)
}

func TestAddNode_OverwriteKeepsAdjacency(t *testing.T) {
	g := New()
	g.AddNode(&Node{ID: "a"})
	g.AddNode(&Node{ID: "b"})
	require.True(t, g.AddEdge("a", "b", EdgeCrossRef, 0.8))

	g.AddNode(&Node{ID: "a", Title: "renamed"})

	n, _ := g.Node("a")
	assert.Equal(t, "renamed", n.Title)
	assert.Len(t, g.Neighbors("a"), 1)
	assert.Equal(t, []string{"a", "b"}, g.NodeIDs())
}

func TestTraverseRelated_NoRevisitWithCycles(t *testing.T) {
	// Hierarchy edges are bidirectional, so every parent/child pair is a cycle.
	g := built(t)

	related := g.TraverseRelated("spec_c21", 10)

	seen := map[string]bool{}
	for _, r := range related {
		assert.NotEqual(t, "spec_c21", r.NodeID)
		assert.False(t, seen[r.NodeID], "node %s emitted twice", r.NodeID)
		seen[r.NodeID] = true
	}
	assert.True(t, seen["spec_c2"])
	assert.True(t, seen["spec_c211"])
	assert.True(t, seen["spec_t1"])
	assert.True(t, seen["spec_cb1"])
}

func TestTraverseRelated_DistancesAndPaths(t *testing.T) {
	g := built(t)

	related := g.TraverseRelated("spec_c2", 3)

	byID := map[string]Related{}
	prev := 0
	for _, r := range related {
		assert.GreaterOrEqual(t, r.Distance, prev, "distances must be non-decreasing")
		prev = r.Distance
		byID[r.NodeID] = r
	}
	assert.Equal(t, 1, byID["spec_c21"].Distance)
	assert.Equal(t, 2, byID["spec_c211"].Distance)
	assert.Equal(t, "hierarchy"+PathSeparator+"hierarchy", byID["spec_c211"].Path)
	assert.Equal(t, "hierarchy"+PathSeparator+"cross_ref", byID["spec_c3"].Path)
	assert.Equal(t, 3, byID["spec_t1"].Distance)
}

func TestTraverseRelated_EdgeTypeFilter(t *testing.T) {
	g := built(t)

	related := g.TraverseRelated("spec_c21", 2, EdgeCrossRef)

	require.Len(t, related, 1)
	assert.Equal(t, "spec_c3", related[0].NodeID)
}

func TestTraverseRelated_Nondestructive(t *testing.T) {
	g := built(t)

	first := g.TraverseRelated("spec_c2", 2)
	second := g.TraverseRelated("spec_c2", 2)

	assert.Equal(t, first, second)
}

func TestTraverseRelated_UnknownStartAndZeroHops(t *testing.T) {
	g := built(t)

	assert.Empty(t, g.TraverseRelated("spec_nope", 2))
	assert.Empty(t, g.TraverseRelated("spec_c2", 0))
}

func TestStats(t *testing.T) {
	g := built(t)

	s := g.Stats()

	assert.Equal(t, 6, s.Nodes)
	assert.Equal(t, 2, s.NodesByType["section_h1"])
	assert.Equal(t, 1, s.NodesByType[store.ChunkTypeTable])
	assert.Equal(t, 2, s.EdgesByType[EdgeHierarchy])
	assert.Equal(t, 2, s.EdgesByType[EdgeChildOf])
	assert.Equal(t, 1, s.EdgesByType[EdgeCrossRef])
	assert.Equal(t, 2, s.EdgesByType[EdgeContains])
	assert.Equal(t, 7, s.Edges)
	assert.Zero(t, s.RejectedEdges)
	assert.Equal(t, int64(1), s.UnresolvedRefs, "cross reference to 9.9 has no target")
}

func TestParentSectionID(t *testing.T) {
	assert.Equal(t, "2.1", ParentSectionID("2.1.1"))
	assert.Equal(t, "2", ParentSectionID("2.1"))
	assert.Empty(t, ParentSectionID("2"))
	assert.Empty(t, ParentSectionID(""))
}

func TestFindBySection(t *testing.T) {
	g := built(t)

	assert.Equal(t, []string{"spec_c21", "spec_c211"}, g.FindBySection("2.1"))
	assert.Equal(t, []string{"spec_c3"}, g.FindBySection("3"))
}

func TestNodeIDRoundTrip(t *testing.T) {
	assert.Equal(t, "spec_abc", NodeID("abc"))
	assert.Equal(t, "abc", ChunkID(NodeID("abc")))
}

func TestResolve(t *testing.T) {
	g := built(t)

	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{ref: "spec_c21", want: "spec_c21", wantOK: true},
		{ref: "c21", want: "spec_c21", wantOK: true},
		{ref: "2.1.1", want: "spec_c211", wantOK: true},
		{ref: " 3 ", want: "spec_c3", wantOK: true},
		{ref: "v1"},
		{ref: "9.9"},
		{ref: ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := g.Resolve(tt.ref)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEdgeTypes(t *testing.T) {
	types, err := ParseEdgeTypes([]string{"Hierarchy", " cross_ref", ""})
	require.NoError(t, err)
	assert.Equal(t, []EdgeType{EdgeHierarchy, EdgeCrossRef}, types)

	_, err = ParseEdgeTypes([]string{"sibling"})
	assert.Error(t, err)

	types, err = ParseEdgeTypes(nil)
	require.NoError(t, err)
	assert.Empty(t, types)
}
