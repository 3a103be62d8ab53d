package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/store"
	"github.com/Aman-CERP/verirag/internal/watcher"
)

func TestReload_SourceChangeSwapsSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given: a reloader following the chunk export
	e := newEnv(t)
	before := e.manager.Current()
	w := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: 50 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		ForcePolling:   true,
	})
	r := watcher.NewReloader(e.manager, w, e.dataDir, e.source)
	swaps := make(chan string, 4)
	r.OnSwap = func(reason string) { swaps <- reason }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return w.Mode() == watcher.ModePolling }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// When: the export gains a section
	chunks := append(corpus(), section("c4", "4", "Physical Layer", "The Physical Layer handles lane deskew and scrambling."))
	writeChunks(t, e.source, chunks)

	// Then: the rebuilt snapshot is swapped in and serves the new section
	select {
	case reason := <-swaps:
		assert.Equal(t, "rebuild", reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot swap after export changed")
	}
	after := e.manager.Current()
	assert.NotSame(t, before, after)

	st, ok := e.manager.Status()
	require.True(t, ok)
	assert.Equal(t, 6, st.Chunks)

	opts, err := search.DefaultOptions().WithSources([]string{search.SourceBM25})
	require.NoError(t, err)
	results, err := e.manager.HybridSearch(ctx, "lane deskew", opts)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c4", results[0].ChunkID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestReload_BadExportKeepsSnapshot(t *testing.T) {
	// Given: a loaded snapshot
	e := newEnv(t)
	before := e.manager.Current()
	r := watcher.NewReloader(e.manager, watcher.NewHybridWatcher(watcher.Options{}), e.dataDir, e.source)

	// When: the export is replaced with an empty chunk and a rebuild is applied
	writeChunks(t, e.source, []*store.Chunk{{ID: ""}})
	r.Apply(context.Background(), []watcher.FileEvent{{Path: r.Paths()[0], Operation: watcher.OpModify}})

	// Then: the old snapshot is still current
	assert.Same(t, before, e.manager.Current())
}
