package gate

import (
	"context"
	"fmt"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

// ErrMalformedResult matches (errors.Is) any hit that carries no score.
var ErrMalformedResult = verrors.New(verrors.ErrCodeMalformedResult, "search hit carries no score", nil)

// Hit is one search result as seen by the gate. It is a closed set: Pair
// and Scored are the only implementations.
type Hit interface {
	isHit()
}

// Pair is a bare (score, chunk) hit, as produced by the embedding searcher.
// The score is used as-is against the thresholds.
type Pair struct {
	Score float64
	Chunk *store.Chunk
}

// Scored wraps a fused result. When the embedding source found the chunk,
// its cosine similarity is compared against the thresholds; fused scores
// and Confidence only measure rank agreement, and the nearest neighbour of
// an unrelated query still ranks first. Results the embedding source did
// not return fall back to Confidence.
type Scored struct {
	Result *search.SearchResult
}

func (Pair) isHit()   {}
func (Scored) isHit() {}

// scoreOf extracts the score the thresholds apply to.
func scoreOf(h Hit) (float64, error) {
	switch v := h.(type) {
	case Pair:
		return v.Score, nil
	case *Pair:
		if v != nil {
			return v.Score, nil
		}
	case Scored:
		if v.Result != nil {
			return tierScore(v.Result), nil
		}
	case *Scored:
		if v != nil && v.Result != nil {
			return tierScore(v.Result), nil
		}
	}
	return 0, ErrMalformedResult
}

func tierScore(r *search.SearchResult) float64 {
	if cos, ok := r.RawScores[search.SourceEmbedding]; ok {
		return cos
	}
	return r.Confidence
}

func malformed(i int, h Hit) error {
	return verrors.New(verrors.ErrCodeMalformedResult, fmt.Sprintf("search hit %d (%T) carries no score", i, h), nil).
		WithDetail("index", fmt.Sprint(i))
}

// hitView is the displayable part of a hit.
type hitView struct {
	id      string
	title   string
	path    string
	content string
	score   float64
}

func viewOf(h Hit) (hitView, bool) {
	switch v := h.(type) {
	case *Pair:
		if v == nil {
			return hitView{}, false
		}
		return viewOf(*v)
	case *Scored:
		if v == nil {
			return hitView{}, false
		}
		return viewOf(*v)
	case Pair:
		if v.Chunk == nil {
			return hitView{}, false
		}
		return hitView{
			id:      v.Chunk.ID,
			title:   v.Chunk.Title(),
			path:    v.Chunk.FilePath,
			content: v.Chunk.Content,
			score:   v.Score,
		}, true
	case Scored:
		r := v.Result
		if r == nil {
			return hitView{}, false
		}
		title := r.Title
		if title == "" {
			title = r.ChunkID
		}
		return hitView{
			id:      r.ChunkID,
			title:   title,
			path:    r.FilePath,
			content: r.Content,
			score:   tierScore(r),
		}, true
	}
	return hitView{}, false
}

// ScoreOf returns the score the thresholds apply to, or ErrMalformedResult.
func ScoreOf(h Hit) (float64, error) {
	return scoreOf(h)
}

// ChunkIDOf returns the hit's chunk id, or "" for a malformed hit.
func ChunkIDOf(h Hit) string {
	v, _ := viewOf(h)
	return v.id
}

// ResultOf returns the hit as a search result, or nil for a malformed hit.
// A Pair becomes an embedding-only result whose score is its similarity.
func ResultOf(h Hit) *search.SearchResult {
	switch v := h.(type) {
	case *Pair:
		if v != nil {
			return ResultOf(*v)
		}
	case *Scored:
		if v != nil {
			return v.Result
		}
	case Scored:
		return v.Result
	case Pair:
		c := v.Chunk
		if c == nil {
			return nil
		}
		return &search.SearchResult{
			ChunkID:    c.ID,
			Content:    c.Content,
			FilePath:   c.FilePath,
			ChunkType:  c.ChunkType,
			Category:   c.Category,
			Title:      c.SectionTitle(),
			Score:      v.Score,
			Confidence: v.Score,
			Sources:    map[string]float64{search.SourceEmbedding: v.Score},
			RawScores:  map[string]float64{search.SourceEmbedding: v.Score},
			Chunk:      c,
		}
	}
	return nil
}

// Searcher is the part of search.Engine the gate adapter needs.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, opts search.Options) ([]*search.SearchResult, error)
}

// Retriever can serve the gate from either source.
type Retriever interface {
	Searcher
	EmbeddingSearch(ctx context.Context, query string, limit int) ([]search.ScoredChunk, error)
}

// SearchFor returns the adapter for the gate's configured source. opts
// apply to hybrid search; the embedding source honours only
// opts.Categories.
func (g *Gate) SearchFor(r Retriever, opts search.Options) SearchFunc {
	if g.config.Source == SourceEmbedding {
		return VectorSearch(embeddingFunc(r.EmbeddingSearch), opts.Categories...)
	}
	return HybridSearch(r, opts)
}

// HybridSearch adapts a hybrid searcher to SearchFunc. opts.Limit is
// replaced by the gate's TopK.
func HybridSearch(s Searcher, opts search.Options) SearchFunc {
	return func(ctx context.Context, query string, limit int) ([]Hit, error) {
		o := opts
		o.Limit = limit
		results, err := s.HybridSearch(ctx, query, o)
		if err != nil {
			return nil, err
		}
		hits := make([]Hit, len(results))
		for i, r := range results {
			hits[i] = Scored{Result: r}
		}
		return hits, nil
	}
}

// categoryOverfetch widens a filtered embedding search so that filtering
// still leaves limit hits in the common case.
const categoryOverfetch = 4

// VectorSearch adapts the embedding searcher to SearchFunc; its cosine
// similarities become Pair scores. With categories, hits of other
// categories are dropped.
func VectorSearch(s search.EmbeddingSearcher, categories ...string) SearchFunc {
	return func(ctx context.Context, query string, limit int) ([]Hit, error) {
		fetch := limit
		if len(categories) > 0 {
			fetch *= categoryOverfetch
		}
		results, err := s.Search(ctx, query, fetch)
		if err != nil {
			return nil, err
		}
		hits := make([]Hit, 0, min(len(results), limit))
		for _, r := range results {
			if len(hits) == limit {
				break
			}
			if len(categories) > 0 && (r.Chunk == nil || !r.Chunk.HasCategory(categories)) {
				continue
			}
			hits = append(hits, Pair{Score: r.Score, Chunk: r.Chunk})
		}
		return hits, nil
	}
}

type embeddingFunc func(ctx context.Context, query string, limit int) ([]search.ScoredChunk, error)

func (f embeddingFunc) Search(ctx context.Context, query string, limit int) ([]search.ScoredChunk, error) {
	return f(ctx, query, limit)
}
