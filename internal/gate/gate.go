// Package gate decides whether retrieved context is trustworthy enough to
// surface. One search runs per query; the top hit's score picks a tier:
// at or above HighThreshold the results are used, below LowThreshold they
// are dropped, and in between an optional judge model breaks the tie.
// Ambiguity and judge failures resolve towards using the results.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/telemetry"
)

// Tier names the branch of the policy that produced a decision.
type Tier string

const (
	TierEmptyQuery Tier = "empty_query"
	TierNoResults  Tier = "no_results"
	TierHigh       Tier = "high"
	TierLow        Tier = "low"
	TierJudgeYes   Tier = "judge_yes"
	TierJudgeNo    Tier = "judge_no"
	TierJudgeError Tier = "judge_error"
	TierMidDefault Tier = "mid_default"
)

// JudgeSampleSize is how many hits the judge prompt summarises.
const JudgeSampleSize = 3

// Sources the gate can search through.
const (
	SourceHybrid    = "hybrid"
	SourceEmbedding = "embedding"
)

// Config holds the gate thresholds and the retrieval source.
type Config struct {
	HighThreshold float64 `yaml:"high_threshold" json:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold" json:"low_threshold"`
	TopK          int     `yaml:"top_k" json:"top_k"`

	// Source is SourceHybrid (fused results) or SourceEmbedding (bare
	// cosine hits).
	Source string `yaml:"source" json:"source"`
}

// DefaultConfig returns the standard 0.8 / 0.5 / 3 policy over hybrid
// search.
func DefaultConfig() Config {
	return Config{
		HighThreshold: 0.8,
		LowThreshold:  0.5,
		TopK:          3,
		Source:        SourceHybrid,
	}
}

// Validate checks that the thresholds form a band.
func (c Config) Validate() error {
	switch c.Source {
	case SourceHybrid, SourceEmbedding:
	default:
		return verrors.ConfigError(fmt.Sprintf("gate.source must be %q or %q, got %q", SourceHybrid, SourceEmbedding, c.Source), nil)
	}
	if c.TopK <= 0 {
		return verrors.ConfigError(fmt.Sprintf("gate.top_k must be positive, got %d", c.TopK), nil)
	}
	if c.LowThreshold > c.HighThreshold {
		return verrors.ConfigError(
			fmt.Sprintf("gate.low_threshold %.2f exceeds gate.high_threshold %.2f", c.LowThreshold, c.HighThreshold), nil).
			WithSuggestion("Set gate.low_threshold <= gate.high_threshold")
	}
	return nil
}

// SearchFunc runs one retrieval pass for the gate.
type SearchFunc func(ctx context.Context, query string, limit int) ([]Hit, error)

// JudgeFunc answers a yes/no relevance prompt in free text.
type JudgeFunc func(ctx context.Context, prompt string) (string, error)

// Decision is the outcome of Decide. Results is empty whenever Use is false.
type Decision struct {
	Use         bool    `json:"use"`
	Results     []Hit   `json:"-"`
	Tier        Tier    `json:"tier"`
	TopScore    float64 `json:"top_score"`
	JudgeCalled bool    `json:"judge_called"`
	JudgeReply  string  `json:"judge_reply,omitempty"`
}

// Gate applies the confidence policy. It holds no per-query state and is
// safe for concurrent use.
type Gate struct {
	config  Config
	metrics *telemetry.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics records every decision.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// New creates a gate. Zero config fields take the defaults.
func New(cfg Config, opts ...Option) (*Gate, error) {
	def := DefaultConfig()
	if cfg.HighThreshold == 0 && cfg.LowThreshold == 0 {
		cfg.HighThreshold, cfg.LowThreshold = def.HighThreshold, def.LowThreshold
	}
	if cfg.TopK == 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{config: cfg}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the effective thresholds.
func (g *Gate) Config() Config {
	return g.config
}

// Decide runs search once and applies the tier policy. A blank query never
// searches. A failing search counts as no results. The only error returned
// is a hit that is neither a Pair nor a Scored with a result, which is a
// collaborator bug.
func (g *Gate) Decide(ctx context.Context, query string, search SearchFunc, judge JudgeFunc) (Decision, error) {
	start := time.Now()

	d, err := g.decide(ctx, query, search, judge)
	if err != nil {
		return Decision{}, err
	}
	if !d.Use {
		d.Results = []Hit{}
	}

	g.metrics.ObserveDecision(string(d.Tier), d.Use, d.JudgeCalled)
	slog.Debug("gate_decision",
		slog.String("tier", string(d.Tier)),
		slog.Bool("use", d.Use),
		slog.Float64("top_score", d.TopScore),
		slog.Int("results", len(d.Results)),
		slog.Bool("judge_called", d.JudgeCalled),
		slog.Duration("latency", time.Since(start)))
	return d, nil
}

func (g *Gate) decide(ctx context.Context, query string, search SearchFunc, judge JudgeFunc) (Decision, error) {
	if strings.TrimSpace(query) == "" {
		return Decision{Tier: TierEmptyQuery}, nil
	}
	if search == nil {
		return Decision{}, verrors.ValidationError("gate: search function is required", nil)
	}

	hits, err := search(ctx, query, g.config.TopK)
	if err != nil {
		slog.Warn("gate_search_failed", verrors.LogAttrs(verrors.SourceUnavailable("search", err))...)
		return Decision{Tier: TierNoResults}, nil
	}
	if len(hits) == 0 {
		return Decision{Tier: TierNoResults}, nil
	}
	for i, h := range hits {
		if _, err := scoreOf(h); err != nil {
			return Decision{}, malformed(i, h)
		}
	}

	top, _ := scoreOf(hits[0])
	d := Decision{Results: hits, TopScore: top}

	switch {
	case top >= g.config.HighThreshold:
		d.Use, d.Tier = true, TierHigh
	case top < g.config.LowThreshold:
		d.Use, d.Tier = false, TierLow
	case judge == nil:
		d.Use, d.Tier = true, TierMidDefault
	default:
		d.JudgeCalled = true
		reply, err := judge(ctx, JudgePrompt(query, hits))
		switch {
		case err != nil:
			slog.Warn("judge_failed",
				verrors.LogAttrs(verrors.New(verrors.ErrCodeJudgeUnavailable, "relevance judge failed", err))...)
			d.Use, d.Tier = true, TierJudgeError
		case strings.Contains(strings.ToUpper(reply), "YES"):
			d.Use, d.Tier, d.JudgeReply = true, TierJudgeYes, reply
		default:
			d.Use, d.Tier, d.JudgeReply = false, TierJudgeNo, reply
		}
	}
	return d, nil
}
