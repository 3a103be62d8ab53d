package validation

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/search"
)

// Searcher runs a hybrid search. index.Manager and index.Snapshot satisfy it.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, opts search.Options) ([]*search.SearchResult, error)
}

// DecideFunc runs the confidence gate for a query.
type DecideFunc func(ctx context.Context, query string) (gate.Decision, error)

// QueryResult is the outcome of one retrieval or negative query.
type QueryResult struct {
	ID         string        `json:"id"`
	Query      string        `json:"query"`
	Passed     bool          `json:"passed"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // 1-based rank of the first expected hit, 0 if none
	Recall     float64       `json:"recall"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// GateResult is the outcome of one gate query.
type GateResult struct {
	ID       string    `json:"id"`
	Query    string    `json:"query"`
	WantUse  bool      `json:"want_use"`
	Use      bool      `json:"use"`
	Tier     gate.Tier `json:"tier"`
	TopScore float64   `json:"top_score"`
	Passed   bool      `json:"passed"`
	Error    string    `json:"error,omitempty"`
}

// Report aggregates a suite run.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	K         int           `json:"k"`
	Retrieval []QueryResult `json:"retrieval"`
	Gate      []GateResult  `json:"gate"`
	Negative  []QueryResult `json:"negative"`

	RetrievalPass int     `json:"retrieval_pass"`
	GatePass      int     `json:"gate_pass"`
	NegativePass  int     `json:"negative_pass"`
	MeanRecall    float64 `json:"recall_at_k"`
	MRR           float64 `json:"mrr"`
	GateSkipped   bool    `json:"gate_skipped,omitempty"`
}

// Passed reports whether every query in the report passed.
func (r *Report) Passed() bool {
	return r.RetrievalPass == len(r.Retrieval) &&
		r.GatePass == len(r.Gate) &&
		r.NegativePass == len(r.Negative)
}

// Validator runs suites against a searcher.
type Validator struct {
	searcher    Searcher
	decide      DecideFunc
	base        search.Options
	concurrency int
}

// Option configures a Validator.
type Option func(*Validator)

// WithDecider enables the gate section of suites.
func WithDecider(fn DecideFunc) Option {
	return func(v *Validator) { v.decide = fn }
}

// WithSearchOptions sets the options every query starts from.
func WithSearchOptions(opts search.Options) Option {
	return func(v *Validator) { v.base = opts }
}

// WithConcurrency bounds the number of queries in flight.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// New creates a validator over s.
func New(s Searcher, opts ...Option) *Validator {
	v := &Validator{searcher: s, base: search.DefaultOptions(), concurrency: 4}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RunQuery runs one retrieval query and scores it against Expected.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec, k int) QueryResult {
	result := QueryResult{ID: spec.ID, Query: spec.Query, TopResults: []string{}}

	opts := v.base
	if k > opts.Limit {
		opts.Limit = k
	}
	if len(spec.Categories) > 0 {
		opts.Categories = spec.Categories
	}
	if len(spec.Sources) > 0 {
		var err error
		if opts, err = opts.WithSources(spec.Sources); err != nil {
			result.Error = err.Error()
			return result
		}
	}

	start := time.Now()
	results, err := v.searcher.HybridSearch(ctx, spec.Query, opts)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		if len(result.TopResults) == k {
			break
		}
		result.TopResults = append(result.TopResults, r.ChunkID)
	}

	if len(spec.Expected) == 0 {
		result.Passed = true
		return result
	}
	result.MatchedAt, result.Recall = score(result.TopResults, spec.Expected)
	result.Passed = result.MatchedAt > 0
	return result
}

// score returns the 1-based rank of the first expected id in got and the
// fraction of expected ids present.
func score(got, expected []string) (int, float64) {
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	first, found := 0, 0
	for i, id := range got {
		if !want[id] {
			continue
		}
		if first == 0 {
			first = i + 1
		}
		found++
		delete(want, id)
	}
	return first, float64(found) / float64(len(expected))
}

// RunGate runs one gate query.
func (v *Validator) RunGate(ctx context.Context, spec GateSpec) GateResult {
	result := GateResult{ID: spec.ID, Query: spec.Query, WantUse: spec.Use}
	d, err := v.decide(ctx, spec.Query)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Use = d.Use
	result.Tier = d.Tier
	result.TopScore = d.TopScore
	result.Passed = d.Use == spec.Use
	return result
}

// Run executes every query in suite. Individual query failures are recorded
// in the report; the returned error is only for cancellation.
func (v *Validator) Run(ctx context.Context, suite *Suite) (*Report, error) {
	k := suite.K
	if k <= 0 {
		k = DefaultK
	}
	report := &Report{
		Timestamp: time.Now(),
		K:         k,
		Retrieval: make([]QueryResult, len(suite.Retrieval)),
		Negative:  make([]QueryResult, len(suite.Negative)),
		Gate:      []GateResult{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, spec := range suite.Retrieval {
		g.Go(func() error {
			report.Retrieval[i] = v.RunQuery(gctx, spec, k)
			return gctx.Err()
		})
	}
	for i, spec := range suite.Negative {
		g.Go(func() error {
			spec.Expected = nil
			report.Negative[i] = v.RunQuery(gctx, spec, k)
			return gctx.Err()
		})
	}
	if v.decide != nil {
		report.Gate = make([]GateResult, len(suite.Gate))
		for i, spec := range suite.Gate {
			g.Go(func() error {
				report.Gate[i] = v.RunGate(gctx, spec)
				return gctx.Err()
			})
		}
	} else if len(suite.Gate) > 0 {
		report.GateSkipped = true
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var recall, rr float64
	for _, r := range report.Retrieval {
		if r.Passed {
			report.RetrievalPass++
			rr += 1 / float64(r.MatchedAt)
		}
		recall += r.Recall
	}
	if n := len(report.Retrieval); n > 0 {
		report.MeanRecall = recall / float64(n)
		report.MRR = rr / float64(n)
	}
	for _, r := range report.Gate {
		if r.Passed {
			report.GatePass++
		}
	}
	for _, r := range report.Negative {
		if r.Passed {
			report.NegativePass++
		}
	}

	slog.Info("validation_complete",
		slog.Int("k", k),
		slog.Int("retrieval_pass", report.RetrievalPass),
		slog.Int("retrieval_total", len(report.Retrieval)),
		slog.Float64("recall_at_k", report.MeanRecall),
		slog.Float64("mrr", report.MRR),
		slog.Int("gate_pass", report.GatePass),
		slog.Int("negative_pass", report.NegativePass))
	return report, nil
}
