package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/verirag/internal/embed"
	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/judge"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

// Project configuration file names, in lookup order.
const (
	ProjectConfigName    = ".verirag.yaml"
	ProjectConfigNameAlt = ".verirag.yml"
)

// DefaultDataDir is the snapshot directory, relative to the project root.
const DefaultDataDir = ".verirag"

// Judge names accepted by gate.judge.
const (
	JudgeNone   = "none"
	JudgeOllama = "ollama"
)

// Config is the complete verirag configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Gate      GateConfig      `yaml:"gate" json:"gate"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Server    ServerConfig    `yaml:"server" json:"server"`

	// ProjectDir is the directory Load was called with; relative data
	// directories resolve against it.
	ProjectDir string `yaml:"-" json:"-"`
}

// RetrievalConfig tunes the hybrid engine.
// Weights and the fusion strategy are configurable via:
//  1. User config ($XDG_CONFIG_HOME/verirag/config.yaml) - personal defaults
//  2. Project config (.verirag.yaml) - per-corpus tuning
//  3. Env vars (VERIRAG_EMBEDDING_WEIGHT, VERIRAG_BM25_WEIGHT, VERIRAG_GRAPH_WEIGHT) - highest priority
type RetrievalConfig struct {
	// Fusion is "rrf" (default) or "weighted_sum".
	Fusion      string         `yaml:"fusion" json:"fusion"`
	RRFConstant int            `yaml:"rrf_constant" json:"rrf_constant"`
	Weights     search.Weights `yaml:"weights" json:"weights"`

	DefaultLimit  int `yaml:"default_limit" json:"default_limit"`
	MaxLimit      int `yaml:"max_limit" json:"max_limit"`
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool"`
	GraphSeeds    int `yaml:"graph_seeds" json:"graph_seeds"`
	GraphHops     int `yaml:"graph_hops" json:"graph_hops"`

	// SourceTimeout bounds each source call, e.g. "5s". "0" disables.
	SourceTimeout string `yaml:"source_timeout" json:"source_timeout"`
	Sequential    bool   `yaml:"sequential" json:"sequential"`
}

// GateConfig configures the confidence gate and its judge.
type GateConfig struct {
	HighThreshold float64 `yaml:"high_threshold" json:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold" json:"low_threshold"`
	TopK          int     `yaml:"top_k" json:"top_k"`

	// Source is "hybrid" (default) or "embedding": what smart_decide,
	// decide and eval search before applying the thresholds.
	Source string `yaml:"source" json:"source"`

	// Judge is "ollama" or "none" (default).
	Judge        string `yaml:"judge" json:"judge"`
	JudgeModel   string `yaml:"judge_model" json:"judge_model"`
	JudgeHost    string `yaml:"judge_host" json:"judge_host"`
	JudgeTimeout string `yaml:"judge_timeout" json:"judge_timeout"`

	MaxContextChars int `yaml:"max_context_chars" json:"max_context_chars"`
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	// Provider is "static" (default, offline) or "ollama".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Host       string `yaml:"host" json:"host"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// IndexConfig configures snapshot storage and the lexical index.
type IndexConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Lexical is "memory" (default) or "bleve".
	Lexical   string   `yaml:"lexical" json:"lexical"`
	Tokenizer string   `yaml:"tokenizer" json:"tokenizer"`
	K1        float64  `yaml:"k1" json:"k1"`
	B         float64  `yaml:"b" json:"b"`
	StopWords []string `yaml:"stop_words" json:"stop_words"`

	// Vector is "hnsw" (default), "pgvector" or "none".
	Vector   string `yaml:"vector" json:"vector"`
	PgURL    string `yaml:"pg_url" json:"pg_url"`
	PgTable  string `yaml:"pg_table" json:"pg_table"`
	HNSWM    int    `yaml:"hnsw_m" json:"hnsw_m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`

	// GraphCategories are the chunk categories that become graph nodes.
	GraphCategories []string `yaml:"graph_categories" json:"graph_categories"`

	LockTimeout string `yaml:"lock_timeout" json:"lock_timeout"`
}

// ServerConfig configures `verirag serve`.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	// MetricsAddr serves Prometheus /metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	RetireDelay   string `yaml:"retire_delay" json:"retire_delay"`
}

// NewConfig creates a Config with the defaults.
func NewConfig() *Config {
	engine := search.DefaultConfig()
	g := gate.DefaultConfig()
	bm25 := store.DefaultBM25Config()

	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			Fusion:        engine.Fusion,
			RRFConstant:   engine.RRFConstant,
			Weights:       engine.Weights,
			DefaultLimit:  engine.DefaultLimit,
			MaxLimit:      engine.MaxLimit,
			CandidatePool: engine.CandidatePool,
			GraphSeeds:    engine.GraphSeeds,
			GraphHops:     engine.DefaultGraphHops,
			SourceTimeout: engine.SourceTimeout.String(),
		},
		Gate: GateConfig{
			HighThreshold:   g.HighThreshold,
			LowThreshold:    g.LowThreshold,
			TopK:            g.TopK,
			Source:          g.Source,
			Judge:           JudgeNone,
			JudgeModel:      judge.DefaultModel,
			JudgeHost:       judge.DefaultHost,
			JudgeTimeout:    judge.DefaultTimeout.String(),
			MaxContextChars: gate.DefaultMaxContextChars,
		},
		Embedding: EmbeddingConfig{
			Provider:   string(embed.ProviderStatic),
			Model:      embed.DefaultOllamaModel,
			Host:       embed.DefaultOllamaHost,
			BatchSize:  embed.DefaultBatchSize,
			Timeout:    embed.DefaultTimeout.String(),
			MaxRetries: 3,
			CacheSize:  embed.DefaultEmbeddingCacheSize,
		},
		Index: IndexConfig{
			DataDir:         DefaultDataDir,
			Lexical:         index.LexicalMemory,
			Tokenizer:       bm25.Tokenizer,
			K1:              bm25.K1,
			B:               bm25.B,
			Vector:          index.VectorHNSW,
			PgTable:         "verirag_embeddings",
			HNSWM:           16,
			EfSearch:        20,
			GraphCategories: []string{store.CategorySpec},
			LockTimeout:     index.DefaultLockTimeout.String(),
		},
		Server: ServerConfig{
			LogLevel:      "info",
			WatchDebounce: "500ms",
			RetireDelay:   index.DefaultRetireDelay.String(),
		},
	}
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/verirag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/verirag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "verirag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "verirag", "config.yaml")
	}
	return filepath.Join(home, ".config", "verirag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file over the defaults.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the project in dir, in order of increasing
// precedence:
//  1. Hardcoded defaults
//  2. User config ($XDG_CONFIG_HOME/verirag/config.yaml)
//  3. Project config (.verirag.yaml in dir)
//  4. Environment variables (VERIRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if configPath := GetUserConfigPath(); fileExists(configPath) {
		if err := cfg.loadYAML(configPath); err != nil {
			return nil, verrors.ConfigError("failed to load user config", err).WithDetail("path", configPath)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, verrors.ConfigError("failed to load project config", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, verrors.ConfigError("invalid configuration", err).
			WithSuggestion("Check .verirag.yaml and VERIRAG_* variables, or run 'verirag config show'")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	cfg.ProjectDir = abs
	return cfg, nil
}

// loadFromFile loads .verirag.yaml, or .verirag.yml as a fallback.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ProjectConfigNameAlt} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	r, o := &c.Retrieval, other.Retrieval
	if o.Fusion != "" {
		r.Fusion = o.Fusion
	}
	if o.RRFConstant != 0 {
		r.RRFConstant = o.RRFConstant
	}
	// A weights block replaces all three so one source can be set to zero.
	if o.Weights != (search.Weights{}) {
		r.Weights = o.Weights
	}
	if o.DefaultLimit != 0 {
		r.DefaultLimit = o.DefaultLimit
	}
	if o.MaxLimit != 0 {
		r.MaxLimit = o.MaxLimit
	}
	if o.CandidatePool != 0 {
		r.CandidatePool = o.CandidatePool
	}
	if o.GraphSeeds != 0 {
		r.GraphSeeds = o.GraphSeeds
	}
	if o.GraphHops != 0 {
		r.GraphHops = o.GraphHops
	}
	if o.SourceTimeout != "" {
		r.SourceTimeout = o.SourceTimeout
	}
	if o.Sequential {
		r.Sequential = true
	}

	g, og := &c.Gate, other.Gate
	if og.HighThreshold != 0 {
		g.HighThreshold = og.HighThreshold
	}
	if og.LowThreshold != 0 {
		g.LowThreshold = og.LowThreshold
	}
	if og.TopK != 0 {
		g.TopK = og.TopK
	}
	if og.Source != "" {
		g.Source = og.Source
	}
	if og.Judge != "" {
		g.Judge = og.Judge
	}
	if og.JudgeModel != "" {
		g.JudgeModel = og.JudgeModel
	}
	if og.JudgeHost != "" {
		g.JudgeHost = og.JudgeHost
	}
	if og.JudgeTimeout != "" {
		g.JudgeTimeout = og.JudgeTimeout
	}
	if og.MaxContextChars != 0 {
		g.MaxContextChars = og.MaxContextChars
	}

	e, oe := &c.Embedding, other.Embedding
	if oe.Provider != "" {
		e.Provider = oe.Provider
	}
	if oe.Model != "" {
		e.Model = oe.Model
	}
	if oe.Host != "" {
		e.Host = oe.Host
	}
	if oe.Dimensions != 0 {
		e.Dimensions = oe.Dimensions
	}
	if oe.BatchSize != 0 {
		e.BatchSize = oe.BatchSize
	}
	if oe.Timeout != "" {
		e.Timeout = oe.Timeout
	}
	if oe.MaxRetries != 0 {
		e.MaxRetries = oe.MaxRetries
	}
	if oe.CacheSize != 0 {
		e.CacheSize = oe.CacheSize
	}

	ix, oi := &c.Index, other.Index
	if oi.DataDir != "" {
		ix.DataDir = oi.DataDir
	}
	if oi.Lexical != "" {
		ix.Lexical = oi.Lexical
	}
	if oi.Tokenizer != "" {
		ix.Tokenizer = oi.Tokenizer
	}
	if oi.K1 != 0 {
		ix.K1 = oi.K1
	}
	if oi.B != 0 {
		ix.B = oi.B
	}
	if len(oi.StopWords) > 0 {
		ix.StopWords = oi.StopWords
	}
	if oi.Vector != "" {
		ix.Vector = oi.Vector
	}
	if oi.PgURL != "" {
		ix.PgURL = oi.PgURL
	}
	if oi.PgTable != "" {
		ix.PgTable = oi.PgTable
	}
	if oi.HNSWM != 0 {
		ix.HNSWM = oi.HNSWM
	}
	if oi.EfSearch != 0 {
		ix.EfSearch = oi.EfSearch
	}
	if len(oi.GraphCategories) > 0 {
		ix.GraphCategories = oi.GraphCategories
	}
	if oi.LockTimeout != "" {
		ix.LockTimeout = oi.LockTimeout
	}

	s, osv := &c.Server, other.Server
	if osv.LogLevel != "" {
		s.LogLevel = osv.LogLevel
	}
	if osv.MetricsAddr != "" {
		s.MetricsAddr = osv.MetricsAddr
	}
	if osv.WatchDebounce != "" {
		s.WatchDebounce = osv.WatchDebounce
	}
	if osv.RetireDelay != "" {
		s.RetireDelay = osv.RetireDelay
	}
}

// applyEnvOverrides applies VERIRAG_* environment variable overrides.
// Weights accept an explicit zero here, unlike in YAML merging.
func (c *Config) applyEnvOverrides() {
	setFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setString("VERIRAG_FUSION", &c.Retrieval.Fusion)
	setInt("VERIRAG_RRF_CONSTANT", &c.Retrieval.RRFConstant)
	setFloat("VERIRAG_EMBEDDING_WEIGHT", &c.Retrieval.Weights.Embedding)
	setFloat("VERIRAG_BM25_WEIGHT", &c.Retrieval.Weights.BM25)
	setFloat("VERIRAG_GRAPH_WEIGHT", &c.Retrieval.Weights.Graph)
	setString("VERIRAG_SOURCE_TIMEOUT", &c.Retrieval.SourceTimeout)

	setFloat("VERIRAG_HIGH_THRESHOLD", &c.Gate.HighThreshold)
	setFloat("VERIRAG_LOW_THRESHOLD", &c.Gate.LowThreshold)
	setInt("VERIRAG_TOP_K", &c.Gate.TopK)
	setString("VERIRAG_GATE_SOURCE", &c.Gate.Source)
	setString("VERIRAG_JUDGE", &c.Gate.Judge)
	setString("VERIRAG_JUDGE_MODEL", &c.Gate.JudgeModel)

	setString("VERIRAG_EMBEDDER", &c.Embedding.Provider)
	setString("VERIRAG_EMBEDDING_MODEL", &c.Embedding.Model)
	if v := os.Getenv("VERIRAG_OLLAMA_HOST"); v != "" {
		c.Embedding.Host = v
		c.Gate.JudgeHost = v
	}

	setString("VERIRAG_DATA_DIR", &c.Index.DataDir)
	setString("VERIRAG_LEXICAL_BACKEND", &c.Index.Lexical)
	setString("VERIRAG_VECTOR_BACKEND", &c.Index.Vector)
	setString("VERIRAG_PG_URL", &c.Index.PgURL)

	setString("VERIRAG_LOG_LEVEL", &c.Server.LogLevel)
	setString("VERIRAG_METRICS_ADDR", &c.Server.MetricsAddr)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.Fusion != search.FusionRRF && r.Fusion != search.FusionWeightedSum {
		return fmt.Errorf("retrieval.fusion must be 'rrf' or 'weighted_sum', got %q", r.Fusion)
	}
	if r.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", r.RRFConstant)
	}
	for name, w := range map[string]float64{
		"embedding": r.Weights.Embedding,
		"bm25":      r.Weights.BM25,
		"graph":     r.Weights.Graph,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("retrieval.weights.%s must be between 0 and 1, got %g", name, w)
		}
	}
	if r.Weights.Embedding+r.Weights.BM25+r.Weights.Graph == 0 {
		return fmt.Errorf("retrieval.weights must not all be zero")
	}
	if r.DefaultLimit < 0 || r.MaxLimit < 0 || r.CandidatePool < 0 || r.GraphSeeds < 0 || r.GraphHops < 0 {
		return fmt.Errorf("retrieval limits, pool, seeds and hops must be non-negative")
	}
	if _, err := parseDuration("retrieval.source_timeout", r.SourceTimeout); err != nil {
		return err
	}

	g := c.Gate
	if g.HighThreshold < 0 || g.HighThreshold > 1 || g.LowThreshold < 0 || g.LowThreshold > 1 {
		return fmt.Errorf("gate thresholds must be between 0 and 1, got high=%g low=%g", g.HighThreshold, g.LowThreshold)
	}
	if g.LowThreshold > g.HighThreshold {
		return fmt.Errorf("gate.low_threshold (%g) must not exceed gate.high_threshold (%g)", g.LowThreshold, g.HighThreshold)
	}
	if g.TopK <= 0 {
		return fmt.Errorf("gate.top_k must be positive, got %d", g.TopK)
	}
	if g.MaxContextChars <= 0 {
		return fmt.Errorf("gate.max_context_chars must be positive, got %d", g.MaxContextChars)
	}
	switch g.Source {
	case gate.SourceHybrid, gate.SourceEmbedding:
	default:
		return fmt.Errorf("gate.source must be 'hybrid' or 'embedding', got %q", g.Source)
	}
	switch strings.ToLower(g.Judge) {
	case "", JudgeNone, JudgeOllama:
	default:
		return fmt.Errorf("gate.judge must be 'ollama' or 'none', got %q", g.Judge)
	}
	if _, err := parseDuration("gate.judge_timeout", g.JudgeTimeout); err != nil {
		return err
	}

	if _, err := embed.ParseProvider(c.Embedding.Provider); err != nil {
		return fmt.Errorf("embedding.provider: %w", err)
	}
	if c.Embedding.BatchSize < 0 || c.Embedding.BatchSize > embed.MaxBatchSize {
		return fmt.Errorf("embedding.batch_size must be between 0 and %d, got %d", embed.MaxBatchSize, c.Embedding.BatchSize)
	}
	if _, err := parseDuration("embedding.timeout", c.Embedding.Timeout); err != nil {
		return err
	}

	ix := c.Index
	switch ix.Lexical {
	case index.LexicalMemory, index.LexicalBleve:
	default:
		return fmt.Errorf("index.lexical must be 'memory' or 'bleve', got %q", ix.Lexical)
	}
	if _, err := store.NewTokenizer(ix.Tokenizer, nil); err != nil {
		return fmt.Errorf("index.tokenizer: %w", err)
	}
	if ix.K1 < 0 || ix.B < 0 || ix.B > 1 {
		return fmt.Errorf("index.k1 must be non-negative and index.b between 0 and 1, got k1=%g b=%g", ix.K1, ix.B)
	}
	switch ix.Vector {
	case index.VectorHNSW, index.VectorNone:
	case index.VectorPgVector:
		if ix.PgURL == "" {
			return fmt.Errorf("index.pg_url is required with index.vector 'pgvector'")
		}
	default:
		return fmt.Errorf("index.vector must be 'hnsw', 'pgvector' or 'none', got %q", ix.Vector)
	}
	if _, err := parseDuration("index.lock_timeout", ix.LockTimeout); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	for name, v := range map[string]string{
		"server.watch_debounce": c.Server.WatchDebounce,
		"server.retire_delay":   c.Server.RetireDelay,
	} {
		if _, err := parseDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(field, v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, v)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, v)
	}
	return d, nil
}

// duration parses a validated field; invalid values read as zero.
func duration(v string) time.Duration {
	d, _ := parseDuration("", v)
	return d
}

// DataDir returns the absolute snapshot directory.
func (c *Config) DataDir() string {
	if filepath.IsAbs(c.Index.DataDir) || c.ProjectDir == "" {
		return c.Index.DataDir
	}
	return filepath.Join(c.ProjectDir, c.Index.DataDir)
}

// EngineConfig converts the retrieval section for search.NewEngine.
func (c *Config) EngineConfig() search.EngineConfig {
	r := c.Retrieval
	cfg := search.DefaultConfig()
	cfg.Fusion = r.Fusion
	cfg.RRFConstant = r.RRFConstant
	cfg.Weights = r.Weights
	cfg.DefaultLimit = r.DefaultLimit
	cfg.MaxLimit = r.MaxLimit
	cfg.CandidatePool = r.CandidatePool
	cfg.GraphSeeds = r.GraphSeeds
	cfg.DefaultGraphHops = r.GraphHops
	cfg.SourceTimeout = duration(r.SourceTimeout)
	cfg.Sequential = r.Sequential
	return cfg
}

// GateConfig converts the gate thresholds for gate.New.
func (c *Config) GateConfig() gate.Config {
	return gate.Config{
		HighThreshold: c.Gate.HighThreshold,
		LowThreshold:  c.Gate.LowThreshold,
		TopK:          c.Gate.TopK,
		Source:        c.Gate.Source,
	}
}

// JudgeEnabled reports whether the mid band consults a judge.
func (c *Config) JudgeEnabled() bool {
	return strings.EqualFold(c.Gate.Judge, JudgeOllama)
}

// JudgeConfig converts the judge settings for judge.New.
func (c *Config) JudgeConfig() judge.Config {
	return judge.Config{
		Host:    c.Gate.JudgeHost,
		Model:   c.Gate.JudgeModel,
		Timeout: duration(c.Gate.JudgeTimeout),
	}
}

// EmbedConfig converts the embedding section for embed.NewEmbedder.
func (c *Config) EmbedConfig() embed.Config {
	provider, _ := embed.ParseProvider(c.Embedding.Provider)
	return embed.Config{
		Provider:   provider,
		Model:      c.Embedding.Model,
		Host:       c.Embedding.Host,
		Dimensions: c.Embedding.Dimensions,
		BatchSize:  c.Embedding.BatchSize,
		Timeout:    duration(c.Embedding.Timeout),
		MaxRetries: c.Embedding.MaxRetries,
		CacheSize:  c.Embedding.CacheSize,
	}
}

// IndexOptions converts the index section for index.NewBuilder.
func (c *Config) IndexOptions() index.Options {
	ix := c.Index
	opts := index.DefaultOptions(c.DataDir())
	opts.Lexical = ix.Lexical
	opts.BM25 = store.BM25Config{K1: ix.K1, B: ix.B, Tokenizer: ix.Tokenizer, StopWords: ix.StopWords}
	opts.Vector = index.VectorOptions{
		Backend:  ix.Vector,
		PgURL:    ix.PgURL,
		PgTable:  ix.PgTable,
		M:        ix.HNSWM,
		EfSearch: ix.EfSearch,
	}
	opts.Graph = graph.BuildOptions{Categories: ix.GraphCategories}
	opts.Engine = c.EngineConfig()
	opts.BatchSize = c.Embedding.BatchSize
	opts.LockTimeout = duration(ix.LockTimeout)
	return opts
}

// WatchDebounce returns the watcher debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return duration(c.Server.WatchDebounce)
}

// RetireDelay returns how long replaced snapshots stay open.
func (c *Config) RetireDelay() time.Duration {
	return duration(c.Server.RetireDelay)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir to the first directory holding a
// .verirag.yaml/.yml or .git, falling back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, ProjectConfigName)) ||
			fileExists(filepath.Join(currentDir, ProjectConfigNameAlt)) ||
			dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
