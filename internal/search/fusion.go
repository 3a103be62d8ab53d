package search

import (
	"fmt"
	"sort"

	"github.com/Aman-CERP/verirag/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Candidate is one entry of a source's ranked list.
type Candidate struct {
	ChunkID string

	// Score is the source's native score, kept for explanation and for
	// magnitude-aware fusion.
	Score float64

	chunk    *store.Chunk // set by the embedding source
	distance int          // set by graph expansion
}

// RankedList is one source's candidates, best first.
type RankedList struct {
	Source     string
	Weight     float64
	Candidates []Candidate
}

// Fused is one chunk after fusion.
type Fused struct {
	ChunkID string
	Score   float64

	// Contributions maps source name to the amount that source added.
	Contributions map[string]float64

	// RawScores maps source name to the candidate's native score.
	RawScores map[string]float64
}

// Fusion merges ranked lists into one scored set. Implementations must be
// deterministic and order-independent over lists.
type Fusion interface {
	// Name identifies the strategy in logs and explanations.
	Name() string

	// Fuse returns one entry per distinct chunk id, unsorted.
	Fuse(lists []RankedList) []*Fused

	// MaxScore is the score of a chunk that ranks first in every list of
	// the given weights.
	MaxScore(weights ...float64) float64
}

// NewFusion resolves a strategy by name.
func NewFusion(name string, rrfK int) (Fusion, error) {
	switch name {
	case "", FusionRRF:
		return NewRRFFusionWithK(rrfK), nil
	case FusionWeightedSum:
		return &WeightedSumFusion{}, nil
	default:
		return nil, fmt.Errorf("unknown fusion strategy %q (want %q or %q)", name, FusionRRF, FusionWeightedSum)
	}
}

// RRFFusion combines ranked lists using weighted Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i(d))
//
// with 1-indexed ranks. A chunk absent from a list gets nothing from it, so
// chunks found by several sources accumulate several contributions.
type RRFFusion struct {
	K int
}

var _ Fusion = (*RRFFusion)(nil)

// NewRRFFusionWithK creates an RRF fusion. If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Name implements Fusion.
func (f *RRFFusion) Name() string { return FusionRRF }

// Fuse implements Fusion. Native magnitudes only reach RawScores.
func (f *RRFFusion) Fuse(lists []RankedList) []*Fused {
	acc := newAccumulator()
	for _, list := range lists {
		for rank, c := range list.Candidates {
			acc.add(c, list.Source, list.Weight/float64(f.K+rank+1))
		}
	}
	return acc.results()
}

// MaxScore implements Fusion.
func (f *RRFFusion) MaxScore(weights ...float64) float64 {
	var total float64
	for _, w := range weights {
		total += w / float64(f.K+1)
	}
	return total
}

// WeightedSumFusion keeps score magnitude: each list's native scores are
// min-max normalised to [0, 1] and the weighted normalised scores are
// summed. A list whose scores are all equal normalises to 1.0 for every
// candidate.
type WeightedSumFusion struct{}

var _ Fusion = (*WeightedSumFusion)(nil)

// Name implements Fusion.
func (WeightedSumFusion) Name() string { return FusionWeightedSum }

// Fuse implements Fusion.
func (WeightedSumFusion) Fuse(lists []RankedList) []*Fused {
	acc := newAccumulator()
	for _, list := range lists {
		if len(list.Candidates) == 0 {
			continue
		}
		lo, hi := list.Candidates[0].Score, list.Candidates[0].Score
		for _, c := range list.Candidates[1:] {
			lo = min(lo, c.Score)
			hi = max(hi, c.Score)
		}
		for _, c := range list.Candidates {
			norm := 1.0
			if hi > lo {
				norm = (c.Score - lo) / (hi - lo)
			}
			acc.add(c, list.Source, list.Weight*norm)
		}
	}
	return acc.results()
}

// MaxScore implements Fusion.
func (WeightedSumFusion) MaxScore(weights ...float64) float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	return total
}

// accumulator sums contributions per chunk id, remembering first-seen order
// so output does not depend on map iteration.
type accumulator struct {
	byID  map[string]*Fused
	order []string
}

func newAccumulator() *accumulator {
	return &accumulator{byID: make(map[string]*Fused)}
}

func (a *accumulator) add(c Candidate, source string, contribution float64) {
	f, ok := a.byID[c.ChunkID]
	if !ok {
		f = &Fused{
			ChunkID:       c.ChunkID,
			Contributions: make(map[string]float64, 3),
			RawScores:     make(map[string]float64, 3),
		}
		a.byID[c.ChunkID] = f
		a.order = append(a.order, c.ChunkID)
	}
	// A source lists each chunk once; keep the first (best) rank if not.
	if _, seen := f.Contributions[source]; seen {
		return
	}
	f.Score += contribution
	f.Contributions[source] = contribution
	f.RawScores[source] = c.Score
}

func (a *accumulator) results() []*Fused {
	out := make([]*Fused, len(a.order))
	for i, id := range a.order {
		out[i] = a.byID[id]
	}
	return out
}

// SortFused orders by score desc, then by number of contributing sources
// desc, then by chunk id asc.
func SortFused(results []*Fused) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Contributions) != len(b.Contributions) {
			return len(a.Contributions) > len(b.Contributions)
		}
		return a.ChunkID < b.ChunkID
	})
}
