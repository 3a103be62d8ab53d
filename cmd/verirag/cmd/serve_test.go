package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/async"
	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/index"
)

func newManager(t *testing.T, dataDir string) *index.Manager {
	t.Helper()
	b, err := index.NewBuilder(index.DefaultOptions(dataDir), embed.NewStaticEmbedder(), nil)
	require.NoError(t, err)
	m := index.NewManager(b, index.WithRetireDelay(0))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestLoadInitialSnapshot_ImportsInBackground(t *testing.T) {
	// Given: no snapshot yet and a chunk source
	dir, src := writeCorpus(t)
	m := newManager(t, filepath.Join(dir, "data"))
	ctx := context.Background()

	// When: starting up
	im := loadInitialSnapshot(ctx, m, src)

	// Then: an import runs and the snapshot becomes current
	require.NotNil(t, im)
	require.NoError(t, im.Wait(ctx))
	snap := im.Progress().Snapshot()
	assert.Equal(t, string(async.StatusReady), snap.Status)
	assert.Equal(t, 5, snap.ChunksTotal)
	assert.Equal(t, 5, snap.ChunksDone)
	st, ok := m.Status()
	require.True(t, ok)
	assert.Equal(t, 5, st.Chunks)
}

func TestLoadInitialSnapshot_ExistingSnapshot(t *testing.T) {
	dir, src := writeCorpus(t)
	m := newManager(t, filepath.Join(dir, "data"))
	_, err := m.Rebuild(context.Background(), src)
	require.NoError(t, err)

	im := loadInitialSnapshot(context.Background(), m, src)

	assert.Nil(t, im)
	assert.NotNil(t, m.Current())
}

func TestLoadInitialSnapshot_NoSource(t *testing.T) {
	m := newManager(t, t.TempDir())

	im := loadInitialSnapshot(context.Background(), m, "")

	assert.Nil(t, im)
	assert.Nil(t, m.Current())
}

func TestLoadInitialSnapshot_BadSourceFails(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, filepath.Join(dir, "data"))

	im := loadInitialSnapshot(context.Background(), m, filepath.Join(dir, "missing.jsonl"))

	require.NotNil(t, im)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, im.Wait(ctx))
	assert.Equal(t, async.StatusFailed, im.Progress().Status())
	assert.Nil(t, m.Current())
}
