package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
)

func lexicalOnly() search.Options {
	return search.Options{Limit: 5, UseBM25: true}
}

func TestManager_SearchBeforeLoad(t *testing.T) {
	m := NewManager(newBuilder(t, t.TempDir(), nil))
	defer m.Close()

	_, err := m.HybridSearch(context.Background(), "tlp", lexicalOnly())
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	_, ok := m.Status()
	assert.False(t, ok)
}

func TestManager_RebuildSwapsSnapshot(t *testing.T) {
	// Given: a loaded snapshot of the original corpus
	dir := t.TempDir()
	src := writeChunks(t, dir, corpus())
	m := NewManager(newBuilder(t, filepath.Join(dir, "data"), nil), WithRetireDelay(0))
	defer m.Close()
	ctx := context.Background()

	_, err := m.Rebuild(ctx, src)
	require.NoError(t, err)
	first := m.Current()
	require.NotNil(t, first)

	results, err := m.HybridSearch(ctx, "ordered sets", lexicalOnly())
	require.NoError(t, err)
	assert.Empty(t, results)

	// When: the export gains a chunk and is rebuilt
	updated := append(corpus(), section("c4", "4", "Physical Layer", "The Physical Layer sends ordered sets."))
	writeChunks(t, dir, updated)
	result, err := m.Rebuild(ctx, src)
	require.NoError(t, err)

	// Then: the new snapshot serves the new chunk
	assert.Equal(t, 6, result.Chunks)
	assert.NotSame(t, first, m.Current())
	results, err = m.HybridSearch(ctx, "ordered sets", lexicalOnly())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c4", results[0].ChunkID)

	st, ok := m.Status()
	require.True(t, ok)
	assert.Equal(t, 6, st.Chunks)
}

func TestManager_FailedReloadKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := writeChunks(t, dir, corpus())
	dataDir := filepath.Join(dir, "data")
	m := NewManager(newBuilder(t, dataDir, nil), WithRetireDelay(0))
	defer m.Close()
	ctx := context.Background()

	_, err := m.Rebuild(ctx, src)
	require.NoError(t, err)
	before := m.Current()

	// The snapshot disappears from disk
	require.NoError(t, os.RemoveAll(dataDir))

	require.Error(t, m.Reload(ctx))
	assert.Same(t, before, m.Current())

	results, err := m.HybridSearch(ctx, "credit", lexicalOnly())
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestManager_ConcurrentSearchDuringReload(t *testing.T) {
	dir := t.TempDir()
	src := writeChunks(t, dir, corpus())
	m := NewManager(newBuilder(t, filepath.Join(dir, "data"), nil))
	defer m.Close()
	ctx := context.Background()
	_, err := m.Rebuild(ctx, src)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				results, err := m.HybridSearch(ctx, "credit based flow control", lexicalOnly())
				assert.NoError(t, err)
				assert.NotEmpty(t, results)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Reload(ctx))
	}
	wg.Wait()
}

func TestManager_CloseIsFinal(t *testing.T) {
	dir := t.TempDir()
	src := writeChunks(t, dir, []*store.Chunk{section("c1", "1", "Intro", "hello")})
	m := NewManager(newBuilder(t, filepath.Join(dir, "data"), nil))
	ctx := context.Background()
	_, err := m.Rebuild(ctx, src)
	require.NoError(t, err)
	require.NoError(t, m.Reload(ctx)) // leaves one snapshot retiring

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Nil(t, m.Current())
	assert.Error(t, m.Reload(ctx))
	_, err = m.Rebuild(ctx, src)
	assert.Error(t, err)
}

func TestManager_EmbeddingSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("before load", func(t *testing.T) {
		m := NewManager(newBuilder(t, t.TempDir(), nil))
		defer m.Close()

		_, err := m.EmbeddingSearch(ctx, "credit", 3)
		assert.True(t, errors.Is(err, ErrNoSnapshot))
	})

	t.Run("snapshot without vectors", func(t *testing.T) {
		dir := t.TempDir()
		m := NewManager(newBuilder(t, filepath.Join(dir, "data"), nil), WithRetireDelay(0))
		defer m.Close()
		_, err := m.Rebuild(ctx, writeChunks(t, dir, corpus()))
		require.NoError(t, err)

		_, err = m.EmbeddingSearch(ctx, "credit", 3)
		assert.True(t, errors.Is(err, ErrNoVectors))
	})

	t.Run("cosine hits", func(t *testing.T) {
		// Given: a snapshot embedded with the static model
		dir := t.TempDir()
		m := NewManager(newBuilder(t, filepath.Join(dir, "data"), embed.NewStaticEmbedder()), WithRetireDelay(0))
		defer m.Close()
		_, err := m.Rebuild(ctx, writeChunks(t, dir, corpus()))
		require.NoError(t, err)

		// When: searching by embedding alone
		hits, err := m.EmbeddingSearch(ctx, "credit based flow control", 3)

		// Then: similarities are ordered and within [0, 1]
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.LessOrEqual(t, len(hits), 3)
		assert.Equal(t, "c3", hits[0].Chunk.ID)
		for i, h := range hits {
			assert.GreaterOrEqual(t, h.Score, 0.0)
			assert.LessOrEqual(t, h.Score, 1.0)
			if i > 0 {
				assert.LessOrEqual(t, h.Score, hits[i-1].Score)
			}
		}
	})
}
