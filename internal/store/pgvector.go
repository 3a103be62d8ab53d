package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

var pgIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgVectorStore is a VectorStore backed by PostgreSQL with the pgvector
// extension, for deployments that share one embedding table between hosts.
// Writes are durable immediately, so Save and Load are no-ops.
type PgVectorStore struct {
	pool   *pgxpool.Pool
	table  string
	config VectorStoreConfig
}

// NewPgVectorStore connects to url and ensures the embedding table exists.
func NewPgVectorStore(ctx context.Context, url, table string, cfg VectorStoreConfig) (*PgVectorStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if table == "" {
		table = "verirag_embeddings"
	}
	if !pgIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}

	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PgVectorStore{pool: pool, table: table, config: cfg}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.migrateSQL()); err != nil {
		return fmt.Errorf("migrate pgvector table: %w", err)
	}
	return nil
}

func (s *PgVectorStore) migrateSQL() string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
  chunk_id  TEXT PRIMARY KEY,
  embedding vector(%[2]d) NOT NULL
);

CREATE INDEX IF NOT EXISTS %[1]s_hnsw_idx
  ON %[1]s USING hnsw (embedding %[3]s);
`, s.table, s.config.Dimensions, s.opClass())
}

func (s *PgVectorStore) upsertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (chunk_id, embedding) VALUES ($1, $2)
		ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`, s.table)
}

func (s *PgVectorStore) searchSQL() string {
	return fmt.Sprintf(`
		SELECT chunk_id, embedding %[2]s $1 AS distance
		FROM %[1]s
		ORDER BY distance
		LIMIT $2`, s.table, s.distanceOp())
}

// toResult converts a row's distance, as computed by the metric's
// operator, to a VectorResult.
func (s *PgVectorStore) toResult(id string, distance float64) *VectorResult {
	d := float32(distance)
	return &VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)}
}

func (s *PgVectorStore) opClass() string {
	if s.config.Metric == "l2" {
		return "vector_l2_ops"
	}
	return "vector_cosine_ops"
}

func (s *PgVectorStore) distanceOp() string {
	if s.config.Metric == "l2" {
		return "<->"
	}
	return "<=>"
}

// Add upserts vectors in one batch.
func (s *PgVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	q := s.upsertSQL()
	batch := &pgx.Batch{}
	for i, id := range ids {
		if len(vectors[i]) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		batch.Queue(q, id, pgvector.NewVector(vectors[i]))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert embeddings: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks by the configured metric.
func (s *PgVectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	rows, err := s.pool.Query(ctx, s.searchSQL(), pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	results := make([]*VectorResult, 0, k)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		results = append(results, s.toResult(id, distance))
	}
	return results, rows.Err()
}

// Delete removes vectors by ID.
func (s *PgVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ANY($1)", s.table), ids)
	return err
}

// Contains checks if ID exists.
func (s *PgVectorStore) Contains(id string) bool {
	var ok bool
	err := s.pool.QueryRow(context.Background(),
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE chunk_id = $1)", s.table), id).Scan(&ok)
	return err == nil && ok
}

// Count returns number of vectors, or 0 when the database is unreachable.
func (s *PgVectorStore) Count() int {
	var n int
	if err := s.pool.QueryRow(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Truncate removes every vector; used before a full re-index.
func (s *PgVectorStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", s.table))
	return err
}

func (s *PgVectorStore) Save(string) error { return nil }
func (s *PgVectorStore) Load(string) error { return nil }

// Close closes the connection pool.
func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}

var _ VectorStore = (*PgVectorStore)(nil)
