package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/search"
)

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown fusion", func(c *Config) { c.Retrieval.Fusion = "borda" }, "retrieval.fusion"},
		{"zero rrf constant", func(c *Config) { c.Retrieval.RRFConstant = 0 }, "rrf_constant"},
		{"negative weight", func(c *Config) { c.Retrieval.Weights.Graph = -0.1 }, "weights.graph"},
		{"weight above one", func(c *Config) { c.Retrieval.Weights.BM25 = 1.5 }, "weights.bm25"},
		{"all weights zero", func(c *Config) { c.Retrieval.Weights = search.Weights{} }, "all be zero"},
		{"negative limit", func(c *Config) { c.Retrieval.MaxLimit = -1 }, "non-negative"},
		{"bad source timeout", func(c *Config) { c.Retrieval.SourceTimeout = "soon" }, "source_timeout"},
		{"threshold above one", func(c *Config) { c.Gate.HighThreshold = 1.2 }, "between 0 and 1"},
		{"inverted band", func(c *Config) { c.Gate.LowThreshold = 0.9 }, "must not exceed"},
		{"zero top k", func(c *Config) { c.Gate.TopK = 0 }, "top_k"},
		{"zero context budget", func(c *Config) { c.Gate.MaxContextChars = 0 }, "max_context_chars"},
		{"unknown gate source", func(c *Config) { c.Gate.Source = "bm25" }, "gate.source"},
		{"unknown judge", func(c *Config) { c.Gate.Judge = "gpt" }, "gate.judge"},
		{"negative judge timeout", func(c *Config) { c.Gate.JudgeTimeout = "-1s" }, "negative duration"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "mlx" }, "embedding.provider"},
		{"batch too large", func(c *Config) { c.Embedding.BatchSize = 100000 }, "batch_size"},
		{"unknown lexical", func(c *Config) { c.Index.Lexical = "lucene" }, "index.lexical"},
		{"unknown tokenizer", func(c *Config) { c.Index.Tokenizer = "icu" }, "index.tokenizer"},
		{"b above one", func(c *Config) { c.Index.B = 2 }, "index.b"},
		{"unknown vector", func(c *Config) { c.Index.Vector = "faiss" }, "index.vector"},
		{"pgvector without url", func(c *Config) { c.Index.Vector = "pgvector" }, "pg_url"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"bad debounce", func(c *Config) { c.Server.WatchDebounce = "fast" }, "watch_debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsEdgeValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"equal thresholds", func(c *Config) { c.Gate.LowThreshold, c.Gate.HighThreshold = 0.6, 0.6 }},
		{"zero thresholds", func(c *Config) { c.Gate.LowThreshold, c.Gate.HighThreshold = 0, 0 }},
		{"single source weight", func(c *Config) { c.Retrieval.Weights = search.Weights{BM25: 1} }},
		{"empty judge", func(c *Config) { c.Gate.Judge = "" }},
		{"embedding gate source", func(c *Config) { c.Gate.Source = "embedding" }},
		{"upper case judge", func(c *Config) { c.Gate.Judge = "Ollama" }},
		{"empty durations", func(c *Config) { c.Retrieval.SourceTimeout, c.Server.RetireDelay = "", "" }},
		{"upper case log level", func(c *Config) { c.Server.LogLevel = "WARN" }},
		{"pgvector with url", func(c *Config) {
			c.Index.Vector = "pgvector"
			c.Index.PgURL = "postgres://localhost/db"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestMergeWith_ZeroValuesKeepExisting(t *testing.T) {
	// Given: a config with non-default values
	cfg := NewConfig()
	cfg.Gate.TopK = 8
	cfg.Index.GraphCategories = []string{"spec", "verilog"}

	// When: merging an empty config
	cfg.mergeWith(&Config{})

	// Then: nothing is reset
	assert.Equal(t, 8, cfg.Gate.TopK)
	assert.Equal(t, []string{"spec", "verilog"}, cfg.Index.GraphCategories)
	assert.Equal(t, search.DefaultWeights(), cfg.Retrieval.Weights)
}

func TestMergeWith_WeightsReplacedAsBlock(t *testing.T) {
	cfg := NewConfig()

	cfg.mergeWith(&Config{Retrieval: RetrievalConfig{Weights: search.Weights{BM25: 1}}})

	assert.Equal(t, search.Weights{BM25: 1}, cfg.Retrieval.Weights)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "0s"},
		{in: "0", want: "0s"},
		{in: " 2s ", want: "2s"},
		{in: "1m30s", want: "1m30s"},
		{in: "2", wantErr: true},
		{in: "-5s", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := parseDuration("field", tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}
}
