package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/gate"
)

// serviceTimeout bounds each network probe.
const serviceTimeout = 15 * time.Second

// CheckSnapshot loads the snapshot and reports its graph and consistency
// diagnostics. A missing snapshot is a warning: nothing has been indexed
// yet, which `verirag index` fixes.
func (c *Checker) CheckSnapshot(ctx context.Context, loader SnapshotLoader) CheckResult {
	result := CheckResult{
		Name:     "snapshot",
		Required: false,
	}

	snap, err := loader.Load(ctx)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "no loadable snapshot"
		result.Details = err.Error()
		return result
	}
	defer func() { _ = snap.Close() }()

	st := snap.Status()
	result.Details = fmt.Sprintf("lexical=%s vectors=%s graph=%d nodes/%d edges indexed=%s",
		st.Lexical, st.VectorBackend, st.GraphNodes, st.GraphEdges, st.IndexedAt)

	var problems []string
	if st.RejectedEdges > 0 {
		problems = append(problems, fmt.Sprintf("%d rejected edges", st.RejectedEdges))
	}
	if st.Unresolved > 0 {
		problems = append(problems, fmt.Sprintf("%d unresolved refs", st.Unresolved))
	}
	if st.Issues > 0 {
		problems = append(problems, fmt.Sprintf("%d chunk/vector inconsistencies", st.Issues))
	}

	result.Message = fmt.Sprintf("%d chunks, %d vectors", st.Chunks, st.Vectors)
	if len(problems) > 0 {
		result.Status = StatusWarn
		result.Message += " (" + strings.Join(problems, ", ") + ")"
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckEmbedder reports whether the configured provider can embed. Without
// it retrieval still runs on BM25 and the graph, so it is never required.
func (c *Checker) CheckEmbedder(ctx context.Context, provider string, e embed.Embedder, constructErr error) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	if constructErr != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s provider unavailable; embedding retrieval disabled", provider)
		result.Details = constructErr.Error()
		return result
	}
	if e == nil {
		result.Status = StatusWarn
		result.Message = "no embedder configured; embedding retrieval disabled"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()
	if !e.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s (%s) not responding", e.ModelName(), provider)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dimensions)", e.ModelName(), e.Dimensions())
	return result
}

// CheckJudge sends the judge a trivial prompt. A failing judge is a warning:
// the gate then uses mid-band results without a verdict.
func (c *Checker) CheckJudge(ctx context.Context, judge gate.JudgeFunc) CheckResult {
	result := CheckResult{
		Name:     "judge",
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()
	start := time.Now()
	reply, err := judge(ctx, "Answer with exactly one word: YES")
	if err != nil {
		result.Status = StatusWarn
		result.Message = "judge unreachable; mid-band results are used without a verdict"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("replied in %s", time.Since(start).Round(time.Millisecond))
	result.Details = fmt.Sprintf("reply: %q", strings.TrimSpace(reply))
	return result
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
