// Package embed turns query and chunk text into dense vectors.
//
// Two providers exist: an Ollama HTTP client for real models and a
// deterministic hash embedder that needs no network. Either can be wrapped in
// an LRU cache so repeated queries skip the model.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per /api/embed call.
	DefaultBatchSize = 32

	// MaxBatchSize prevents a single request from holding the whole corpus.
	MaxBatchSize = 256

	// DefaultTimeout bounds one embedding request. A cold Ollama model load
	// can take tens of seconds.
	DefaultTimeout = 60 * time.Second
)

// StaticDimensions is the vector width of the hash embedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
