// Package index turns a JSONL chunk export into a persisted snapshot and
// loads snapshots into ready-to-query search engines.
//
// A data directory holds one snapshot:
//
//	<data>/snapshot.db     chunks, embeddings and state (SQLite)
//	<data>/vectors.hnsw    exported HNSW graph (+ .meta id mapping)
//	<data>/index.lock      cross-process import lock
//
// Import writes a snapshot under the lock. Load reads it back into an
// immutable Snapshot; Manager swaps Snapshots atomically for live reloads.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/verirag/internal/embed"
	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
	"github.com/Aman-CERP/verirag/internal/telemetry"
)

// Data directory layout.
const (
	SnapshotDBName = "snapshot.db"
	VectorFileName = "vectors.hnsw"
	LockFileName   = "index.lock"
)

// Lexical backends.
const (
	LexicalMemory = "memory"
	LexicalBleve  = "bleve"
)

// Vector backends.
const (
	VectorHNSW     = "hnsw"
	VectorPgVector = "pgvector"
	VectorNone     = "none"
)

// DefaultLockTimeout bounds how long Import waits for another import.
const DefaultLockTimeout = 30 * time.Second

// VectorOptions selects and tunes the vector store.
type VectorOptions struct {
	Backend  string
	PgURL    string
	PgTable  string
	M        int
	EfSearch int
}

// Options configures a Builder.
type Options struct {
	DataDir string

	// Lexical is "memory" (BM25Index) or "bleve".
	Lexical string
	BM25    store.BM25Config

	Vector VectorOptions
	Graph  graph.BuildOptions
	Engine search.EngineConfig

	// BatchSize is the number of chunks per embedding request.
	BatchSize   int
	LockTimeout time.Duration
}

// DefaultOptions returns options for an HNSW + in-memory BM25 snapshot.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:     dataDir,
		Lexical:     LexicalMemory,
		BM25:        store.DefaultBM25Config(),
		Vector:      VectorOptions{Backend: VectorHNSW, M: 16, EfSearch: 20},
		Engine:      search.DefaultConfig(),
		BatchSize:   embed.DefaultBatchSize,
		LockTimeout: DefaultLockTimeout,
	}
}

// ImportResult summarizes a finished Import.
type ImportResult struct {
	Chunks   int           `json:"chunks"`
	Vectors  int           `json:"vectors"`
	Model    string        `json:"model,omitempty"`
	Source   string        `json:"source"`
	Duration time.Duration `json:"duration"`
}

// Builder writes and loads snapshots. The embedder may be nil, in which case
// snapshots carry no vectors and the engine runs lexical + graph only.
type Builder struct {
	opts     Options
	embedder embed.Embedder
	metrics  *telemetry.Metrics
}

// NewBuilder validates opts and returns a Builder.
func NewBuilder(opts Options, embedder embed.Embedder, metrics *telemetry.Metrics) (*Builder, error) {
	if strings.TrimSpace(opts.DataDir) == "" {
		return nil, verrors.ConfigError("index data directory is empty", nil)
	}
	switch opts.Lexical {
	case "":
		opts.Lexical = LexicalMemory
	case LexicalMemory, LexicalBleve:
	default:
		return nil, verrors.ConfigError(fmt.Sprintf("unknown lexical backend %q", opts.Lexical), nil).
			WithSuggestion("Use 'memory' or 'bleve'")
	}
	switch opts.Vector.Backend {
	case "":
		opts.Vector.Backend = VectorHNSW
	case VectorHNSW, VectorNone:
	case VectorPgVector:
		if opts.Vector.PgURL == "" {
			return nil, verrors.ConfigError("pgvector backend needs a postgres url", nil).
				WithSuggestion("Set index.pg_url or VERIRAG_PG_URL")
		}
	default:
		return nil, verrors.ConfigError(fmt.Sprintf("unknown vector backend %q", opts.Vector.Backend), nil).
			WithSuggestion("Use 'hnsw', 'pgvector' or 'none'")
	}
	if opts.BM25.K1 == 0 && opts.BM25.B == 0 {
		opts.BM25 = store.DefaultBM25Config()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embed.DefaultBatchSize
	}
	if opts.BatchSize > embed.MaxBatchSize {
		opts.BatchSize = embed.MaxBatchSize
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	return &Builder{opts: opts, embedder: embedder, metrics: metrics}, nil
}

// Options returns the effective options.
func (b *Builder) Options() Options {
	return b.opts
}

func (b *Builder) dbPath() string {
	return filepath.Join(b.opts.DataDir, SnapshotDBName)
}

func (b *Builder) vectorPath() string {
	return filepath.Join(b.opts.DataDir, VectorFileName)
}

func (b *Builder) vectorsEnabled() bool {
	return b.embedder != nil && b.opts.Vector.Backend != VectorNone
}

// ProgressFunc receives embedding progress during an import: done of total
// chunks have vectors.
type ProgressFunc func(done, total int)

// Import replaces the snapshot with the chunks in jsonlPath: chunks go to
// SQLite, embeddings are computed in batches and persisted next to them,
// and the vector store is rebuilt. The whole import runs under the data
// directory lock.
func (b *Builder) Import(ctx context.Context, jsonlPath string) (*ImportResult, error) {
	return b.ImportWithProgress(ctx, jsonlPath, nil)
}

// ImportWithProgress is Import with an embedding progress callback.
func (b *Builder) ImportWithProgress(ctx context.Context, jsonlPath string, progress ProgressFunc) (result *ImportResult, err error) {
	if progress == nil {
		progress = func(int, int) {}
	}
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		b.metrics.ObserveIndexBuild(status, time.Since(start))
	}()

	lock := NewFileLock(b.opts.DataDir)
	if err := lock.LockContext(ctx, b.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			slog.Warn("index_unlock_failed", slog.String("error", unlockErr.Error()))
		}
	}()

	chunks, err := store.LoadChunksFile(jsonlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.New(verrors.ErrCodeFileNotFound, "chunk file not found", err).
				WithDetail("path", jsonlPath)
		}
		return nil, verrors.New(verrors.ErrCodeChunkDecode, "invalid chunk file", err).
			WithDetail("path", jsonlPath)
	}
	slog.Info("index_chunks_loaded", slog.String("path", jsonlPath), slog.Int("chunks", len(chunks)))

	db, err := store.NewSQLiteStore(b.dbPath())
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeIndexFailed, "open snapshot database", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.ReplaceChunks(ctx, chunks); err != nil {
		return nil, verrors.New(verrors.ErrCodeIndexFailed, "write chunks", err)
	}

	result = &ImportResult{Chunks: len(chunks), Source: jsonlPath}

	if b.vectorsEnabled() {
		embedStart := time.Now()
		ids, vectors, err := b.embedChunks(ctx, chunks, progress)
		if err != nil {
			return nil, err
		}
		if err := db.SaveEmbeddings(ctx, ids, vectors, b.embedder.ModelName()); err != nil {
			return nil, verrors.New(verrors.ErrCodeIndexFailed, "save embeddings", err)
		}
		if err := b.writeVectors(ctx, ids, vectors); err != nil {
			return nil, err
		}
		result.Vectors = len(ids)
		result.Model = b.embedder.ModelName()
		slog.Info("index_embedding_complete",
			slog.Int("vectors", len(ids)),
			slog.String("model", result.Model),
			slog.Int64("duration_ms", time.Since(embedStart).Milliseconds()))
	} else {
		_ = os.Remove(b.vectorPath())
		_ = os.Remove(b.vectorPath() + ".meta")
	}

	state := map[string]string{
		store.StateKeySchemaVersion:  strconv.Itoa(store.MetadataSchemaVersion),
		store.StateKeyChunkSource:    jsonlPath,
		store.StateKeyLastIndexedAt:  time.Now().UTC().Format(time.RFC3339),
		store.StateKeySnapshotChunks: strconv.Itoa(len(chunks)),
		store.StateKeyEmbedderModel:  result.Model,
		store.StateKeyEmbedderDims:   "0",
	}
	if result.Model != "" {
		state[store.StateKeyEmbedderDims] = strconv.Itoa(b.embedder.Dimensions())
	}
	for k, v := range state {
		if err := db.SetState(ctx, k, v); err != nil {
			return nil, verrors.New(verrors.ErrCodeIndexFailed, "save index state", err)
		}
	}

	result.Duration = time.Since(start)
	slog.Info("index_complete",
		slog.Int("chunks", result.Chunks),
		slog.Int("vectors", result.Vectors),
		slog.String("embedder_model", result.Model),
		slog.String("vector_backend", b.opts.Vector.Backend),
		slog.Int64("duration_total_ms", result.Duration.Milliseconds()),
		slog.String("path", b.opts.DataDir))
	return result, nil
}

// embedText is what gets embedded for a chunk: its title line and content.
func embedText(c *store.Chunk) string {
	if t := c.SectionTitle(); t != "" {
		return t + "\n" + c.Content
	}
	return c.Content
}

func (b *Builder) embedChunks(ctx context.Context, chunks []*store.Chunk, progress ProgressFunc) ([]string, [][]float32, error) {
	ids := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))

	for batchStart := 0; batchStart < len(chunks); batchStart += b.opts.BatchSize {
		select {
		case <-ctx.Done():
			slog.Info("index_interrupted", slog.Int("embedded", len(ids)), slog.Int("total", len(chunks)))
			return nil, nil, fmt.Errorf("indexing interrupted at %d/%d chunks: %w", len(ids), len(chunks), ctx.Err())
		default:
		}

		batchEnd := min(batchStart+b.opts.BatchSize, len(chunks))
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = embedText(c)
		}

		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, verrors.New(verrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embed batch %d-%d", batchStart, batchEnd), err)
		}
		if len(vecs) != len(batch) {
			return nil, nil, verrors.New(verrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), len(batch)), nil)
		}

		for i, c := range batch {
			ids = append(ids, c.ID)
			vectors = append(vectors, vecs[i])
		}
		progress(len(ids), len(chunks))
	}
	return ids, vectors, nil
}

func (b *Builder) vectorConfig() store.VectorStoreConfig {
	cfg := store.DefaultVectorStoreConfig(b.embedder.Dimensions())
	if b.opts.Vector.M > 0 {
		cfg.M = b.opts.Vector.M
	}
	if b.opts.Vector.EfSearch > 0 {
		cfg.EfSearch = b.opts.Vector.EfSearch
	}
	return cfg
}

func (b *Builder) writeVectors(ctx context.Context, ids []string, vectors [][]float32) error {
	switch b.opts.Vector.Backend {
	case VectorPgVector:
		pg, err := store.NewPgVectorStore(ctx, b.opts.Vector.PgURL, b.opts.Vector.PgTable, b.vectorConfig())
		if err != nil {
			return verrors.New(verrors.ErrCodeIndexFailed, "open pgvector store", err)
		}
		defer func() { _ = pg.Close() }()
		if err := pg.Truncate(ctx); err != nil {
			return verrors.New(verrors.ErrCodeIndexFailed, "truncate pgvector table", err)
		}
		if err := pg.Add(ctx, ids, vectors); err != nil {
			return verrors.New(verrors.ErrCodeIndexFailed, "write pgvector rows", err)
		}
		return nil

	default:
		hs, err := store.NewHNSWStore(b.vectorConfig())
		if err != nil {
			return verrors.New(verrors.ErrCodeIndexFailed, "create vector store", err)
		}
		defer func() { _ = hs.Close() }()
		if err := hs.Add(ctx, ids, vectors); err != nil {
			return verrors.New(verrors.ErrCodeIndexFailed, "add vectors", err)
		}
		if err := hs.Save(b.vectorPath()); err != nil {
			return verrors.New(verrors.ErrCodeIndexFailed, "save vector index", err)
		}
		return nil
	}
}

// Load reads the snapshot from disk and assembles the lexical index, the
// document graph, the vector store and the engine over it. A snapshot whose
// vectors came from a different embedder loads without the embedding
// source rather than failing.
func (b *Builder) Load(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	if _, err := os.Stat(b.dbPath()); err != nil {
		return nil, verrors.New(verrors.ErrCodeNoSnapshot, "no index snapshot", err).
			WithDetail("path", b.dbPath()).
			WithSuggestion("Run 'verirag index <chunks.jsonl>' first")
	}

	db, err := store.NewSQLiteStore(b.dbPath())
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeCorruptIndex, "open snapshot database", err)
	}
	defer func() { _ = db.Close() }()

	chunks, err := db.AllChunks(ctx)
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeCorruptIndex, "read chunks", err)
	}
	state := readState(ctx, db)
	if v := state[store.StateKeySchemaVersion]; v != "" && v != strconv.Itoa(store.MetadataSchemaVersion) {
		slog.Warn("metadata_schema_mismatch",
			slog.String("snapshot", v),
			slog.Int("supported", store.MetadataSchemaVersion))
	}

	snap := &Snapshot{
		Chunks:        chunks,
		Lookup:        search.NewChunkMap(chunks),
		LexicalName:   b.opts.Lexical,
		VectorBackend: VectorNone,
		Source:        state[store.StateKeyChunkSource],
		IndexedAt:     state[store.StateKeyLastIndexedAt],
		LoadedAt:      time.Now(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = snap.Close()
		}
	}()

	lexical, err := b.loadLexical(ctx, snap)
	if err != nil {
		return nil, err
	}

	snap.Graph = graph.New()
	snap.Graph.BuildFromChunks(chunks, b.opts.Graph)

	engineOpts := []search.EngineOption{
		search.WithLexical(lexical),
		search.WithGraph(snap.Graph),
		search.WithMetrics(b.metrics),
	}

	if b.vectorsEnabled() {
		vectors, err := b.loadVectors(ctx, db, state)
		if err != nil {
			return nil, err
		}
		if vectors != nil {
			snap.Vectors = vectors
			snap.VectorBackend = b.opts.Vector.Backend
			snap.EmbedderModel = b.embedder.ModelName()
			snap.closers = append(snap.closers, vectors)

			vs, err := search.NewVectorSearcher(b.embedder, vectors, snap.Lookup)
			if err != nil {
				return nil, err
			}
			snap.Embedding = vs
			engineOpts = append(engineOpts, search.WithEmbedding(vs))

			checker := NewConsistencyChecker(snap.Lookup, vectors)
			check, err := checker.Check(ctx)
			if err != nil {
				slog.Warn("consistency_check_failed", slog.String("error", err.Error()))
			} else {
				snap.Consistency = check
				if check.Count(InconsistencyOrphanVector) > 0 {
					if err := checker.Repair(ctx, check.Inconsistencies); err != nil {
						slog.Warn("consistency_repair_failed", slog.String("error", err.Error()))
					}
				}
			}
		}
	}

	engine, err := search.NewEngine(snap.Lookup, b.opts.Engine, engineOpts...)
	if err != nil {
		return nil, err
	}
	snap.Engine = engine

	st := snap.Graph.Stats()
	b.metrics.SetGraphStats(st.Nodes, st.Edges, st.RejectedEdges, st.UnresolvedRefs)
	vectorCount := 0
	if snap.Vectors != nil {
		vectorCount = snap.Vectors.Count()
	}
	b.metrics.SetIndexSize(len(chunks), vectorCount)

	slog.Info("snapshot_loaded",
		slog.Int("chunks", len(chunks)),
		slog.Int("vectors", vectorCount),
		slog.Int("graph_nodes", st.Nodes),
		slog.Int("graph_edges", st.Edges),
		slog.String("lexical", snap.LexicalName),
		slog.String("vector_backend", snap.VectorBackend),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	ok = true
	return snap, nil
}

func readState(ctx context.Context, db *store.SQLiteStore) map[string]string {
	keys := []string{
		store.StateKeySchemaVersion,
		store.StateKeyEmbedderModel,
		store.StateKeyEmbedderDims,
		store.StateKeyChunkSource,
		store.StateKeyLastIndexedAt,
		store.StateKeySnapshotChunks,
	}
	state := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := db.GetState(ctx, k)
		if err != nil {
			slog.Warn("state_read_failed", slog.String("key", k), slog.String("error", err.Error()))
			continue
		}
		state[k] = v
	}
	return state
}

func (b *Builder) loadLexical(ctx context.Context, snap *Snapshot) (search.LexicalSearcher, error) {
	if b.opts.Lexical == LexicalBleve {
		// In-memory Bleve: a reload never contends for an on-disk index
		// the previous snapshot still has open.
		bl, err := store.NewBleveLexicalIndex("")
		if err != nil {
			return nil, verrors.New(verrors.ErrCodeIndexFailed, "create bleve index", err)
		}
		snap.closers = append(snap.closers, bl)
		if err := bl.Index(ctx, snap.Chunks); err != nil {
			return nil, verrors.New(verrors.ErrCodeIndexFailed, "bleve indexing", err)
		}
		return bl, nil
	}

	idx, err := store.NewBM25Index(b.opts.BM25)
	if err != nil {
		return nil, verrors.ConfigError("invalid bm25 configuration", err)
	}
	corpus := make([]string, len(snap.Chunks))
	for i, c := range snap.Chunks {
		corpus[i] = c.Content
	}
	idx.Fit(corpus)
	snap.BM25 = idx
	return search.NewBM25Searcher(idx, snap.Chunks)
}

// loadVectors returns nil, nil when the stored vectors cannot serve the
// current embedder.
func (b *Builder) loadVectors(ctx context.Context, db *store.SQLiteStore, state map[string]string) (store.VectorStore, error) {
	model := b.embedder.ModelName()
	storedModel := state[store.StateKeyEmbedderModel]
	storedDims, _ := strconv.Atoi(state[store.StateKeyEmbedderDims])

	if storedModel == "" {
		slog.Warn("snapshot_has_no_vectors", slog.String("path", b.opts.DataDir))
		return nil, nil
	}
	if storedModel != model || storedDims != b.embedder.Dimensions() {
		slog.Warn("embedding_model_mismatch",
			slog.String("snapshot_model", storedModel),
			slog.Int("snapshot_dims", storedDims),
			slog.String("embedder_model", model),
			slog.Int("embedder_dims", b.embedder.Dimensions()))
		return nil, nil
	}

	if b.opts.Vector.Backend == VectorPgVector {
		pg, err := store.NewPgVectorStore(ctx, b.opts.Vector.PgURL, b.opts.Vector.PgTable, b.vectorConfig())
		if err != nil {
			slog.Warn("vector_store_unavailable",
				verrors.LogAttrs(verrors.SourceUnavailable(search.SourceEmbedding, err))...)
			return nil, nil
		}
		return pg, nil
	}

	hs, err := store.NewHNSWStore(b.vectorConfig())
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeIndexFailed, "create vector store", err)
	}
	loadErr := hs.Load(b.vectorPath())
	if loadErr == nil {
		return hs, nil
	}

	// The exported graph is a cache of the embeddings table; rebuild it.
	slog.Warn("vector_index_rebuild",
		slog.String("path", b.vectorPath()),
		slog.String("reason", loadErr.Error()))
	_ = hs.Close()
	hs, err = store.NewHNSWStore(b.vectorConfig())
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeIndexFailed, "create vector store", err)
	}
	stored, err := db.Embeddings(ctx, model)
	if err != nil {
		_ = hs.Close()
		return nil, verrors.New(verrors.ErrCodeCorruptIndex, "read embeddings", err)
	}
	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vecs := make([][]float32, len(ids))
	for i, id := range ids {
		vecs[i] = stored[id]
	}
	if err := hs.Add(ctx, ids, vecs); err != nil {
		_ = hs.Close()
		return nil, verrors.New(verrors.ErrCodeCorruptIndex, "rebuild vector index", err)
	}
	return hs, nil
}
