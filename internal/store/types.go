// Package store holds the chunk model and the persistence and index layers
// built over it: the SQLite snapshot, the BM25 lexical indexes (in-memory and
// Bleve) and the vector stores (HNSW and pgvector).
package store

import (
	"context"
	"fmt"
	"strings"
)

// Chunk categories known to the retrieval core. Other values are allowed.
const (
	CategorySpec    = "spec"
	CategoryVerilog = "verilog"
)

// Chunk types that receive "contains" edges in the document graph.
const (
	ChunkTypeTable     = "table"
	ChunkTypeCodeBlock = "code_block"
)

// MetadataSchemaVersion versions the metadata keys read through the typed
// accessors below. Bump it when a key changes meaning.
const MetadataSchemaVersion = 1

// Metadata keys of schema version 1.
const (
	MetaSectionID     = "section_id"
	MetaSectionTitle  = "section_title"
	MetaParentSection = "parent_section"
	MetaParentH1      = "parent_h1"
	MetaParentH2      = "parent_h2"
	MetaCrossRefs     = "cross_refs"
)

// State keys persisted next to the chunk snapshot.
const (
	StateKeySchemaVersion  = "metadata_schema_version"
	StateKeyEmbedderModel  = "embedder_model"
	StateKeyEmbedderDims   = "embedder_dimensions"
	StateKeyChunkSource    = "chunk_source"
	StateKeyLastIndexedAt  = "last_indexed_at"
	StateKeySnapshotChunks = "snapshot_chunks"
)

// Chunk is a retrievable fragment of spec or RTL content. It is produced by an
// external chunker and never mutated by the retrieval core.
type Chunk struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	ChunkType string         `json:"chunk_type"`
	Level     int            `json:"level"`
	Content   string         `json:"content"`
	FilePath  string         `json:"file_path"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the invariants a chunk must hold before it is indexed.
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("chunk id is empty")
	}
	if c.Level < 0 {
		return fmt.Errorf("chunk %s: negative level %d", c.ID, c.Level)
	}
	return nil
}

func (c *Chunk) metaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	switch v := c.Metadata[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// SectionID returns the dotted section number, e.g. "2.1.1".
func (c *Chunk) SectionID() string { return c.metaString(MetaSectionID) }

// SectionTitle returns the heading text of the chunk's own section.
func (c *Chunk) SectionTitle() string { return c.metaString(MetaSectionTitle) }

// ParentSection returns the title of the closest containing section.
func (c *Chunk) ParentSection() string { return c.metaString(MetaParentSection) }

// ParentH1 returns the title of the containing level-1 heading.
func (c *Chunk) ParentH1() string { return c.metaString(MetaParentH1) }

// ParentH2 returns the title of the containing level-2 heading.
func (c *Chunk) ParentH2() string { return c.metaString(MetaParentH2) }

// CrossRefs returns the section ids this chunk references. JSON decoding
// yields []any, programmatic construction usually []string; both are accepted
// and non-string entries are skipped.
func (c *Chunk) CrossRefs() []string {
	if c.Metadata == nil {
		return nil
	}
	switch v := c.Metadata[MetaCrossRefs].(type) {
	case []string:
		return v
	case []any:
		refs := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				refs = append(refs, s)
			}
		}
		return refs
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Title is the best human-readable label for the chunk: its section title,
// falling back to the id.
func (c *Chunk) Title() string {
	if t := c.SectionTitle(); t != "" {
		return t
	}
	return c.ID
}

// HasCategory reports whether the chunk is in one of the categories.
// An empty filter matches every chunk.
func (c *Chunk) HasCategory(categories []string) bool {
	if len(categories) == 0 {
		return true
	}
	for _, cat := range categories {
		if c.Category == cat {
			return true
		}
	}
	return false
}

// LexicalResult is one ranked hit from a lexical backend.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (256 for the static embedder).
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore provides nearest-neighbour search over chunk embeddings.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector, best first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	Contains(id string) bool
	Count() int

	// Persistence. Stores that persist on write treat these as no-ops.
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'verirag index --force')", e.Expected, e.Got)
}
