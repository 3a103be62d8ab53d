// Package output renders CLI results: status lines, ranked search results,
// gate decisions and index status. Colour is used only on terminals and
// never when NO_COLOR is set.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/search"
)

// Palette.
const (
	ColorLime     = "154"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// PreviewChars bounds the content preview per result.
const PreviewChars = 160

// Styles are the lipgloss styles the writer renders with.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
	Score   lipgloss.Style
}

// ColorStyles is the terminal palette.
func ColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Score:   lipgloss.NewStyle().Bold(true),
	}
}

// PlainStyles render text unchanged.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Header: s, Success: s, Warning: s, Error: s, Dim: s, Label: s, Score: s}
}

// Writer provides formatted output for the CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer, coloured when out is a terminal.
func New(out io.Writer) *Writer {
	if UseColor(out) {
		return &Writer{out: out, styles: ColorStyles()}
	}
	return NewPlain(out)
}

// NewPlain creates a Writer without colour.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: PlainStyles()}
}

// UseColor reports whether out is a terminal and NO_COLOR is unset.
func UseColor(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Status prints a status line with an icon. Write errors are ignored.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Status(w.styles.Success.Render("✓"), fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status(w.styles.Warning.Render("!"), fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status(w.styles.Error.Render("✗"), fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws an in-place progress bar; it ends the line at 100%.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3.0f%% %s", w.styles.Success.Render(progressBar(current, total, 30)), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func progressBar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = int(float64(current) / float64(total) * float64(width))
	}
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Results prints ranked search results. With explain, each result also shows
// its per-source contributions, native scores and graph distance.
func (w *Writer) Results(query string, results []*search.SearchResult, explain bool) {
	if len(results) == 0 {
		w.Warningf("No results for %q", query)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s\n\n", w.styles.Header.Render(fmt.Sprintf("%d results for %q", len(results), query)))

	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.ChunkID
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", i+1,
			w.styles.Score.Render(fmt.Sprintf("%.3f", r.Confidence)), title)
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Label.Render(
			fmt.Sprintf("%s · %s/%s · %s", r.ChunkID, r.Category, r.ChunkType, r.FilePath)))
		if preview := Preview(r.Content, PreviewChars); preview != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", preview)
		}
		if explain {
			w.explain(r)
		}
		_, _ = fmt.Fprintln(w.out)
	}
}

func (w *Writer) explain(r *search.SearchResult) {
	parts := []string{fmt.Sprintf("fused=%.5f", r.Score)}
	for _, src := range sortedKeys(r.Sources) {
		part := fmt.Sprintf("%s=%.5f", src, r.Sources[src])
		if raw, ok := r.RawScores[src]; ok {
			part += fmt.Sprintf(" (raw %.3f)", raw)
		}
		parts = append(parts, part)
	}
	if r.Distance > 0 {
		parts = append(parts, fmt.Sprintf("hops=%d", r.Distance))
	}
	_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Dim.Render(strings.Join(parts, "  ")))
}

// Decision prints a gate decision and, when used, the formatted context.
func (w *Writer) Decision(d gate.Decision, maxContextChars int) {
	verdict := w.styles.Error.Render("REJECT")
	if d.Use {
		verdict = w.styles.Success.Render("USE")
	}
	_, _ = fmt.Fprintf(w.out, "%s  tier=%s top_score=%.3f", verdict, d.Tier, d.TopScore)
	if d.JudgeCalled {
		_, _ = fmt.Fprintf(w.out, " judge=%q", strings.TrimSpace(d.JudgeReply))
	}
	_, _ = fmt.Fprintln(w.out)

	if !d.Use {
		return
	}
	if block := gate.FormatContext(d.Results, maxContextChars); block != "" {
		_, _ = fmt.Fprintf(w.out, "\n%s\n", block)
	}
}

// IndexStatus prints a snapshot summary.
func (w *Writer) IndexStatus(st index.Status) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render("verirag index"))
	row := func(label, value string) {
		_, _ = fmt.Fprintf(w.out, "  %-16s %s\n", w.styles.Label.Render(label), value)
	}
	row("chunks", fmt.Sprint(st.Chunks))
	row("vectors", fmt.Sprintf("%d (%s)", st.Vectors, st.VectorBackend))
	if st.EmbedderModel != "" {
		row("model", st.EmbedderModel)
	}
	row("lexical", st.Lexical)
	row("fusion", st.Fusion)
	row("graph", fmt.Sprintf("%d nodes, %d edges", st.GraphNodes, st.GraphEdges))
	if st.RejectedEdges > 0 || st.Unresolved > 0 {
		row("graph issues", w.styles.Warning.Render(
			fmt.Sprintf("%d rejected edges, %d unresolved refs", st.RejectedEdges, st.Unresolved)))
	}
	if st.Source != "" {
		row("source", st.Source)
	}
	if st.IndexedAt != "" {
		row("indexed", st.IndexedAt)
	}
	for _, src := range sortedKeys(st.SourceHealth) {
		row("source "+src, st.SourceHealth[src])
	}
	if st.Issues > 0 {
		row("consistency", w.styles.Warning.Render(fmt.Sprintf("%d issues, run 'verirag index' to rebuild", st.Issues)))
	}
}

// Related prints a graph traversal. title resolves a node id for display and
// may be nil.
func (w *Writer) Related(start string, related []graph.Related, title func(nodeID string) string) {
	if len(related) == 0 {
		w.Warningf("No nodes related to %s", start)
		return
	}
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(fmt.Sprintf("%d nodes related to %s", len(related), start)))
	for _, r := range related {
		label := r.NodeID
		if title != nil {
			if t := title(r.NodeID); t != "" {
				label = fmt.Sprintf("%s  %s", r.NodeID, t)
			}
		}
		_, _ = fmt.Fprintf(w.out, "  [%d] %s\n", r.Distance, label)
		_, _ = fmt.Fprintf(w.out, "      %s\n", w.styles.Dim.Render(r.Path))
	}
}

// Preview collapses whitespace and cuts s to n runes with "...".
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
