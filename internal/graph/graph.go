// Package graph builds the structural graph over spec chunks (section
// hierarchy, cross references, containment of tables and code blocks) and
// answers bounded breadth-first "what is related to this node" queries.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/Aman-CERP/verirag/internal/store"
)

// NodePrefix is prepended to a chunk id to form its node id.
const NodePrefix = "spec_"

// PreviewLength is the number of runes of content kept on a node.
const PreviewLength = 200

// PathSeparator joins edge kinds in Related.Path.
const PathSeparator = "→"

// EdgeType names a kind of directed edge.
type EdgeType string

const (
	EdgeHierarchy EdgeType = "hierarchy"
	EdgeChildOf   EdgeType = "child_of"
	EdgeCrossRef  EdgeType = "cross_ref"
	EdgeContains  EdgeType = "contains"
)

// Default edge weights.
const (
	WeightHierarchy = 1.0
	WeightCrossRef  = 0.8
	WeightContains  = 0.9
)

// NodeID returns the graph node id for a chunk id.
func NodeID(chunkID string) string {
	return NodePrefix + chunkID
}

// ChunkID strips NodePrefix from a node id.
func ChunkID(nodeID string) string {
	return strings.TrimPrefix(nodeID, NodePrefix)
}

// Node is one chunk in the graph.
type Node struct {
	ID        string
	NodeType  string
	Title     string
	SectionID string
	Level     int
	Preview   string
	ParentID  string
	Metadata  map[string]any
}

// Edge is one adjacency entry.
type Edge struct {
	Target string
	Type   EdgeType
	Weight float64
}

// Related is a node reached by TraverseRelated.
type Related struct {
	NodeID   string `json:"node_id"`
	Distance int    `json:"distance"`
	Path     string `json:"path"`
}

// Stats describes graph size for diagnostics.
type Stats struct {
	Nodes         int              `json:"nodes"`
	Edges         int              `json:"edges"`
	NodesByType   map[string]int   `json:"nodes_by_type"`
	EdgesByType   map[EdgeType]int `json:"edges_by_type"`
	RejectedEdges int64            `json:"rejected_edges"`

	// UnresolvedRefs counts metadata references (parent section, cross
	// reference, containing title) that matched no node during the build.
	UnresolvedRefs int64 `json:"unresolved_refs"`
}

// BuildOptions selects which chunks become nodes.
type BuildOptions struct {
	// Categories of chunks that become nodes. Empty means {"spec"}.
	Categories []string
}

// Graph is a directed multigraph of chunk nodes.
//
// Building (AddNode, AddEdge, BuildFromChunks) is single-goroutine. Once
// built, the graph is read-only and TraverseRelated, Node, Neighbors and
// Stats are safe for concurrent use.
type Graph struct {
	nodes     map[string]*Node
	adjacency map[string][]Edge
	order     []string // node insertion order, for stable listings

	rejected   atomic.Int64
	unresolved atomic.Int64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		adjacency: make(map[string][]Edge),
	}
}

// AddNode inserts or overwrites a node. Overwriting keeps existing edges.
func (g *Graph) AddNode(n *Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
	if _, ok := g.adjacency[n.ID]; !ok {
		g.adjacency[n.ID] = []Edge{}
	}
}

// AddEdge appends src -> dst. It reports false, and counts the rejection,
// when either endpoint is unknown. A hierarchy edge also records a child_of
// entry under dst so the hierarchy is walkable upwards.
func (g *Graph) AddEdge(src, dst string, kind EdgeType, weight float64) bool {
	if _, ok := g.nodes[src]; !ok {
		g.rejected.Add(1)
		return false
	}
	if _, ok := g.nodes[dst]; !ok {
		g.rejected.Add(1)
		return false
	}

	g.adjacency[src] = append(g.adjacency[src], Edge{Target: dst, Type: kind, Weight: weight})
	if kind == EdgeHierarchy {
		g.adjacency[dst] = append(g.adjacency[dst], Edge{Target: src, Type: EdgeChildOf, Weight: weight})
	}
	return true
}

// RejectedEdges counts AddEdge calls dropped for a missing endpoint. A
// non-zero value after a build usually means chunk metadata references
// sections that were never indexed.
func (g *Graph) RejectedEdges() int64 {
	return g.rejected.Load()
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Neighbors returns the outgoing adjacency of id.
func (g *Graph) Neighbors(id string) []Edge {
	return g.adjacency[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// BuildFromChunks adds one node per chunk in the selected categories and
// then derives edges from chunk metadata in a second pass, using the
// section-id and title maps built in the first pass for lookups.
func (g *Graph) BuildFromChunks(chunks []*store.Chunk, opts BuildOptions) {
	categories := opts.Categories
	if len(categories) == 0 {
		categories = []string{store.CategorySpec}
	}

	sectionMap := make(map[string]string) // section id -> node id
	titleMap := make(map[string]string)   // title -> node id, section chunks preferred
	selected := make([]*store.Chunk, 0, len(chunks))

	for _, c := range chunks {
		if !c.HasCategory(categories) {
			continue
		}
		selected = append(selected, c)

		n := nodeFromChunk(c)
		g.AddNode(n)

		if n.SectionID != "" {
			sectionMap[n.SectionID] = n.ID
		}
		if title := c.SectionTitle(); title != "" {
			if prev, ok := titleMap[title]; !ok || (!isSectionType(g.nodes[prev].NodeType) && isSectionType(n.NodeType)) {
				titleMap[title] = n.ID
			}
		}
	}

	for _, c := range selected {
		id := NodeID(c.ID)
		sectionID := c.SectionID()

		if sectionID != "" {
			if parent := ParentSectionID(sectionID); parent != "" {
				if parentNode, ok := sectionMap[parent]; ok {
					g.AddEdge(parentNode, id, EdgeHierarchy, WeightHierarchy)
					g.nodes[id].ParentID = parentNode
				} else {
					g.unresolved.Add(1)
				}
			}
		}

		for _, ref := range c.CrossRefs() {
			if ref == sectionID {
				continue
			}
			target, ok := sectionMap[ref]
			switch {
			case !ok:
				g.unresolved.Add(1)
			case target != id:
				g.AddEdge(id, target, EdgeCrossRef, WeightCrossRef)
			}
		}

		if c.ChunkType == store.ChunkTypeTable || c.ChunkType == store.ChunkTypeCodeBlock {
			declared, linked := false, false
			for _, title := range []string{c.ParentSection(), c.ParentH2(), c.ParentH1()} {
				if title == "" {
					continue
				}
				declared = true
				if container, ok := titleMap[title]; ok && container != id {
					linked = g.AddEdge(container, id, EdgeContains, WeightContains)
					break
				}
			}
			if declared && !linked {
				g.unresolved.Add(1)
			}
		}
	}
}

func nodeFromChunk(c *store.Chunk) *Node {
	title := c.SectionTitle()
	if title == "" {
		title = firstLine(c.Content)
	}
	return &Node{
		ID:        NodeID(c.ID),
		NodeType:  c.ChunkType,
		Title:     title,
		SectionID: c.SectionID(),
		Level:     c.Level,
		Preview:   truncateRunes(c.Content, PreviewLength),
		Metadata:  c.Metadata,
	}
}

func isSectionType(chunkType string) bool {
	return strings.HasPrefix(chunkType, "section")
}

// ParentSectionID strips the last dot-segment: "2.1.1" -> "2.1", "2" -> "".
func ParentSectionID(sectionID string) string {
	i := strings.LastIndexByte(sectionID, '.')
	if i <= 0 {
		return ""
	}
	return sectionID[:i]
}

// TraverseRelated walks breadth-first from start for up to hops levels and
// returns every node reached, at most once each, in discovery order. The
// start node is never included. With edgeTypes given, only those edge kinds
// are followed. Unknown start nodes and hops < 1 yield an empty list.
func (g *Graph) TraverseRelated(start string, hops int, edgeTypes ...EdgeType) []Related {
	related := []Related{}
	if _, ok := g.nodes[start]; !ok || hops < 1 {
		return related
	}

	var allowed map[EdgeType]bool
	if len(edgeTypes) > 0 {
		allowed = make(map[EdgeType]bool, len(edgeTypes))
		for _, t := range edgeTypes {
			allowed[t] = true
		}
	}

	type frontierItem struct {
		id   string
		path []string
	}

	visited := map[string]bool{start: true}
	frontier := []frontierItem{{id: start}}

	for depth := 1; depth <= hops && len(frontier) > 0; depth++ {
		var next []frontierItem
		for _, item := range frontier {
			for _, e := range g.adjacency[item.id] {
				if allowed != nil && !allowed[e.Type] {
					continue
				}
				if visited[e.Target] {
					continue
				}
				visited[e.Target] = true

				path := make([]string, len(item.path)+1)
				copy(path, item.path)
				path[len(item.path)] = string(e.Type)

				related = append(related, Related{
					NodeID:   e.Target,
					Distance: depth,
					Path:     strings.Join(path, PathSeparator),
				})
				next = append(next, frontierItem{id: e.Target, path: path})
			}
		}
		frontier = next
	}
	return related
}

// Stats returns node and edge totals with per-type breakdowns.
func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:          len(g.nodes),
		NodesByType:    make(map[string]int),
		EdgesByType:    make(map[EdgeType]int),
		RejectedEdges:  g.rejected.Load(),
		UnresolvedRefs: g.unresolved.Load(),
	}
	for _, n := range g.nodes {
		s.NodesByType[n.NodeType]++
	}
	for _, edges := range g.adjacency {
		for _, e := range edges {
			s.Edges++
			s.EdgesByType[e.Type]++
		}
	}
	return s
}

// NodeIDs returns node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// FindBySection returns node ids whose section id equals or starts with
// prefix+".", sorted by section id.
func (g *Graph) FindBySection(prefix string) []string {
	var ids []string
	for _, id := range g.order {
		sid := g.nodes[id].SectionID
		if sid == prefix || strings.HasPrefix(sid, prefix+".") {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return g.nodes[ids[i]].SectionID < g.nodes[ids[j]].SectionID
	})
	return ids
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncateRunes(strings.TrimLeft(s, "# "), 80)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Resolve maps a user-supplied reference to a node id. It accepts a node
// id, a chunk id or a section id, in that order; a section id resolves to
// its first node in insertion order.
func (g *Graph) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := g.nodes[ref]; ok {
		return ref, true
	}
	if _, ok := g.nodes[NodeID(ref)]; ok {
		return NodeID(ref), true
	}
	for _, id := range g.order {
		if g.nodes[id].SectionID == ref {
			return id, true
		}
	}
	return "", false
}

// ParseEdgeTypes converts edge kind names, ignoring case, and rejects
// unknown ones.
func ParseEdgeTypes(names []string) ([]EdgeType, error) {
	var out []EdgeType
	for _, n := range names {
		t := EdgeType(strings.ToLower(strings.TrimSpace(n)))
		switch t {
		case EdgeHierarchy, EdgeChildOf, EdgeCrossRef, EdgeContains:
			out = append(out, t)
		case "":
		default:
			return nil, fmt.Errorf("unknown edge type %q (want hierarchy, child_of, cross_ref or contains)", n)
		}
	}
	return out, nil
}
