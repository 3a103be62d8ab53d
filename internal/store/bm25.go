package store

import (
	"math"
	"sort"
)

// BM25Config configures the in-memory BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// Tokenizer is "simple" (lowercase whitespace split) or "code".
	Tokenizer string

	// StopWords are dropped by either tokenizer.
	StopWords []string
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:        1.5,
		B:         0.75,
		Tokenizer: TokenizerSimple,
	}
}

// DefaultSpecStopWords are filler words common in spec prose and RTL
// keywords that appear in nearly every module.
var DefaultSpecStopWords = []string{
	"the", "a", "an", "of", "and", "or", "to", "in", "is", "be", "for",
	"begin", "end", "wire", "reg", "logic", "assign",
}

// LexicalHit is a document index paired with its BM25 score.
type LexicalHit struct {
	Index int
	Score float64
}

// BM25Stats summarises the statistics computed by Fit.
type BM25Stats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index ranks a fixed corpus against free-text queries with Okapi BM25.
//
// The index is rebuilt wholesale by Fit; there is no incremental update.
// Fit must be called before Scores. After Fit the index is read-only and safe
// for concurrent use.
type BM25Index struct {
	k1       float64
	b        float64
	tokenize Tokenizer

	docFreqs []map[string]int // per-document term frequencies
	docLens  []int
	df       map[string]int
	idf      map[string]float64
	avgdl    float64
}

// NewBM25Index creates an unfitted index. Zero K1 or B take the defaults.
func NewBM25Index(cfg BM25Config) (*BM25Index, error) {
	def := DefaultBM25Config()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	tok, err := NewTokenizer(cfg.Tokenizer, cfg.StopWords)
	if err != nil {
		return nil, err
	}

	return &BM25Index{
		k1:       cfg.K1,
		b:        cfg.B,
		tokenize: tok,
		df:       map[string]int{},
		idf:      map[string]float64{},
		avgdl:    1,
	}, nil
}

// Fit tokenizes every document and recomputes all corpus statistics,
// discarding anything computed by a previous Fit. An empty corpus is valid:
// the average length falls back to 1 and Scores returns an empty slice.
func (idx *BM25Index) Fit(corpus []string) {
	idx.docFreqs = make([]map[string]int, len(corpus))
	idx.docLens = make([]int, len(corpus))
	idx.df = make(map[string]int)

	total := 0
	for i, doc := range corpus {
		tokens := idx.tokenize(doc)
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		for t := range freqs {
			idx.df[t]++
		}
		idx.docFreqs[i] = freqs
		idx.docLens[i] = len(tokens)
		total += len(tokens)
	}

	idx.avgdl = 1
	if len(corpus) > 0 && total > 0 {
		idx.avgdl = float64(total) / float64(len(corpus))
	}

	// IDF uses ln(1 + (N - df + 0.5)/(df + 0.5)), which stays positive even
	// for terms present in more than half the corpus.
	n := float64(len(corpus))
	idx.idf = make(map[string]float64, len(idx.df))
	for term, df := range idx.df {
		d := float64(df)
		idx.idf[term] = math.Log(1 + (n-d+0.5)/(d+0.5))
	}
}

// Scores returns one BM25 score per fitted document in corpus order.
// Documents sharing no term with the query score zero.
func (idx *BM25Index) Scores(query string) []float64 {
	scores := make([]float64, len(idx.docFreqs))
	if len(scores) == 0 {
		return scores
	}

	for _, term := range idx.tokenize(query) {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		for i, freqs := range idx.docFreqs {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			norm := 1 - idx.b + idx.b*float64(idx.docLens[i])/idx.avgdl
			scores[i] += idf * (tf * (idx.k1 + 1)) / (tf + idx.k1*norm)
		}
	}
	return scores
}

// TopN returns up to n documents with a positive score, best first.
// Ties keep corpus order. n <= 0 returns every positive hit.
func (idx *BM25Index) TopN(query string, n int) []LexicalHit {
	scores := idx.Scores(query)
	hits := make([]LexicalHit, 0, len(scores))
	for i, s := range scores {
		if s > 0 {
			hits = append(hits, LexicalHit{Index: i, Score: s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if n > 0 && len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

// Len returns the number of fitted documents.
func (idx *BM25Index) Len() int {
	return len(idx.docFreqs)
}

// Stats returns the statistics computed by the last Fit.
func (idx *BM25Index) Stats() BM25Stats {
	return BM25Stats{
		DocumentCount: len(idx.docFreqs),
		TermCount:     len(idx.df),
		AvgDocLength:  idx.avgdl,
	}
}
