package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

// FormatSearchResults formats fused results as markdown.
func FormatSearchResults(query string, results []*search.SearchResult) string {
	valid := filterValidResults(results)
	if len(valid) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result%s\n\n", len(valid), plural(len(valid)))
	for i, r := range valid {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

// FormatDecision formats a gate decision as markdown. A rejected decision
// carries no context.
func FormatDecision(query string, d gate.Decision, maxContextChars int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Retrieval Decision for \"%s\"\n\n", query)
	verdict := "REJECT"
	if d.Use {
		verdict = "USE"
	}
	fmt.Fprintf(&sb, "**Decision:** %s (tier `%s`, top score %.2f)\n", verdict, d.Tier, d.TopScore)
	if d.JudgeCalled {
		fmt.Fprintf(&sb, "**Judge:** %s\n", strings.TrimSpace(d.JudgeReply))
	}
	if !d.Use || len(d.Results) == 0 {
		sb.WriteString("\nNo context should be injected for this query.\n")
		return sb.String()
	}
	block := gate.FormatContext(d.Results, maxContextChars)
	if block == "" {
		sb.WriteString("\nNo result fits within the context budget.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n### Context\n\n%s\n", block)
	return sb.String()
}

// FormatRelated formats a graph traversal as markdown.
func FormatRelated(start string, related []RelatedOutput) string {
	if len(related) == 0 {
		return fmt.Sprintf("No nodes related to `%s`", start)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Nodes related to `%s`\n\n", start)
	sb.WriteString("| Hops | Node | Section | Title | Path |\n|---|---|---|---|---|\n")
	for _, r := range related {
		fmt.Fprintf(&sb, "| %d | `%s` | %s | %s | %s |\n",
			r.Distance, r.NodeID, r.SectionID, escapeCell(r.Title), r.Path)
	}
	return sb.String()
}

func filterValidResults(results []*search.SearchResult) []*search.SearchResult {
	valid := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.ChunkID != "" {
			valid = append(valid, r)
		}
	}
	return valid
}

func formatResult(sb *strings.Builder, num int, r *search.SearchResult) {
	title := r.Title
	if title == "" {
		title = r.ChunkID
	}
	fmt.Fprintf(sb, "### %d. %s (confidence: %.2f)\n", num, title, r.Confidence)

	meta := []string{fmt.Sprintf("`%s`", r.ChunkID)}
	if r.Category != "" || r.ChunkType != "" {
		meta = append(meta, fmt.Sprintf("%s/%s", r.Category, r.ChunkType))
	}
	if r.FilePath != "" {
		meta = append(meta, r.FilePath)
	}
	fmt.Fprintf(sb, "%s\n", strings.Join(meta, " · "))
	if reason := matchReason(r); reason != "" {
		fmt.Fprintf(sb, "**Matched by:** %s\n", reason)
	}

	lang := "text"
	if r.Category == store.CategoryVerilog {
		lang = "verilog"
	}
	fmt.Fprintf(sb, "\n```%s\n%s\n```\n\n", lang, strings.TrimSpace(r.Content))
}

// matchReason names the sources that contributed, strongest first, and the
// graph distance for expanded hits.
func matchReason(r *search.SearchResult) string {
	sources := make([]string, 0, len(r.Sources))
	for src, v := range r.Sources {
		if v > 0 {
			sources = append(sources, src)
		}
	}
	sort.Slice(sources, func(i, j int) bool {
		if r.Sources[sources[i]] != r.Sources[sources[j]] {
			return r.Sources[sources[i]] > r.Sources[sources[j]]
		}
		return sources[i] < sources[j]
	})
	reason := strings.Join(sources, ", ")
	if r.Distance > 0 {
		reason += fmt.Sprintf(" (%d hop%s from a direct hit)", r.Distance, plural(r.Distance))
	}
	return reason
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutput converts a fused result to the tool output form.
func ToSearchResultOutput(r *search.SearchResult) SearchResultOutput {
	if r == nil {
		return SearchResultOutput{}
	}
	return SearchResultOutput{
		ChunkID:    r.ChunkID,
		Title:      r.Title,
		FilePath:   r.FilePath,
		Category:   r.Category,
		ChunkType:  r.ChunkType,
		Content:    r.Content,
		Score:      r.Score,
		Confidence: r.Confidence,
		Sources:    r.Sources,
		Distance:   r.Distance,
	}
}

// toRelatedOutput resolves traversal results against the graph's nodes.
func toRelatedOutput(g *graph.Graph, related []graph.Related) []RelatedOutput {
	out := make([]RelatedOutput, 0, len(related))
	for _, r := range related {
		ro := RelatedOutput{
			NodeID:   r.NodeID,
			ChunkID:  graph.ChunkID(r.NodeID),
			Distance: r.Distance,
			Path:     r.Path,
		}
		if n, ok := g.Node(r.NodeID); ok {
			ro.Title = n.Title
			ro.SectionID = n.SectionID
		}
		out = append(out, ro)
	}
	return out
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
