package index

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector whose chunk is not in the snapshot.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a snapshot chunk without a vector.
	InconsistencyMissingVector
)

// String returns the log name of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected issue.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	ChunkID string            `json:"chunk_id"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Checked         int             `json:"checked"`
	Inconsistencies []Inconsistency `json:"inconsistencies,omitempty"`
	Duration        time.Duration   `json:"duration"`
}

// Count returns the number of issues of type t.
func (r *CheckResult) Count(t InconsistencyType) int {
	n := 0
	for _, issue := range r.Inconsistencies {
		if issue.Type == t {
			n++
		}
	}
	return n
}

// idLister is implemented by vector stores that can enumerate their ids.
// Stores that cannot are only checked for missing vectors.
type idLister interface {
	IDs() []string
}

// ConsistencyChecker compares the snapshot's chunks with its vector store.
// The chunk table is the source of truth.
type ConsistencyChecker struct {
	chunks search.ChunkMap
	vector store.VectorStore
}

// NewConsistencyChecker creates a checker over chunks and vectors.
func NewConsistencyChecker(chunks search.ChunkMap, vector store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{chunks: chunks, vector: vector}
}

// Check finds chunks without vectors and vectors without chunks. Issues are
// ordered by type, then chunk id.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	ids := make([]string, 0, len(c.chunks))
	for id := range c.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if lister, ok := c.vector.(idLister); ok {
		for _, id := range lister.IDs() {
			if _, known := c.chunks[id]; !known {
				issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, ChunkID: id})
			}
		}
	}

	for i, id := range ids {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !c.vector.Contains(id) {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, ChunkID: id})
		}
	}

	result := &CheckResult{
		Checked:         len(ids),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}
	if len(issues) > 0 {
		slog.Warn("index_inconsistent",
			slog.Int("checked", result.Checked),
			slog.Int("orphan_vectors", result.Count(InconsistencyOrphanVector)),
			slog.Int("missing_vectors", result.Count(InconsistencyMissingVector)))
	}
	return result, nil
}

// Repair deletes orphan vectors. Missing vectors need a re-index and are
// only logged.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphans []string
	missing := 0
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphans = append(orphans, issue.ChunkID)
		case InconsistencyMissingVector:
			missing++
		}
	}

	if len(orphans) > 0 {
		if err := c.vector.Delete(ctx, orphans); err != nil {
			return err
		}
		slog.Info("deleted orphan vector entries", slog.Int("count", len(orphans)))
	}
	if missing > 0 {
		slog.Warn("index has missing vectors, run 'verirag index' to rebuild",
			slog.Int("missing_count", missing))
	}
	return nil
}

// QuickCheck compares counts only.
func (c *ConsistencyChecker) QuickCheck() bool {
	consistent := len(c.chunks) == c.vector.Count()
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("chunks", len(c.chunks)),
			slog.Int("vectors", c.vector.Count()))
	}
	return consistent
}
