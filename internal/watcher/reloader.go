package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/index"
)

// SnapshotManager is the part of index.Manager the reloader drives.
type SnapshotManager interface {
	Current() *index.Snapshot
	Reload(ctx context.Context) error
	Rebuild(ctx context.Context, jsonlPath string) (*index.ImportResult, error)
}

// Reloader keeps a SnapshotManager in step with files on disk: a changed
// chunk export is re-imported, a changed snapshot database is reloaded.
type Reloader struct {
	manager SnapshotManager
	watcher Watcher
	source  string // chunk JSONL; empty disables rebuilds
	dbPath  string

	// OnSwap, if set, is called after every successful rebuild or reload.
	OnSwap func(reason string)
}

// NewReloader creates a reloader. source may be empty to only follow
// snapshots written by other processes.
func NewReloader(manager SnapshotManager, w Watcher, dataDir, source string) *Reloader {
	r := &Reloader{
		manager: manager,
		watcher: w,
		dbPath:  absClean(filepath.Join(dataDir, index.SnapshotDBName)),
	}
	if source != "" {
		r.source = absClean(source)
	}
	return r
}

// Paths returns the files to watch.
func (r *Reloader) Paths() []string {
	if r.source == "" {
		return []string{r.dbPath}
	}
	return []string{r.source, r.dbPath}
}

// Run starts the watcher and applies its batches until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.watcher.Start(ctx, r.Paths()...) }()

	events, errs := r.watcher.Events(), r.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			_ = r.watcher.Stop()
			return nil
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			r.Apply(ctx, batch)
		}
	}
}

// Apply handles one batch. A source change wins over a database change in
// the same batch because the rebuild reloads anyway.
func (r *Reloader) Apply(ctx context.Context, batch []FileEvent) {
	var sourceChanged, dbChanged bool
	for _, e := range batch {
		if e.Operation == OpDelete || e.Operation == OpRename {
			continue
		}
		switch e.Path {
		case r.source:
			sourceChanged = r.source != ""
		case r.dbPath:
			dbChanged = true
		}
	}

	switch {
	case sourceChanged:
		start := time.Now()
		result, err := r.manager.Rebuild(ctx, r.source)
		if err != nil {
			slog.Warn("watch_rebuild_failed", verrors.LogAttrs(err)...)
			return
		}
		slog.Info("watch_rebuilt",
			slog.Int("chunks", result.Chunks),
			slog.Duration("duration", time.Since(start)))
		r.swapped("rebuild")
	case dbChanged && r.stale():
		if err := r.manager.Reload(ctx); err != nil {
			slog.Warn("watch_reload_failed", verrors.LogAttrs(err)...)
			return
		}
		slog.Info("watch_reloaded")
		r.swapped("reload")
	}
}

// stale reports whether the database changed after the current snapshot
// was loaded. Our own rebuilds load after writing, so they never look
// stale.
func (r *Reloader) stale() bool {
	cur := r.manager.Current()
	if cur == nil {
		return true
	}
	info, err := os.Stat(r.dbPath)
	if err != nil {
		return false
	}
	return info.ModTime().After(cur.LoadedAt)
}

func (r *Reloader) swapped(reason string) {
	if r.OnSwap != nil {
		r.OnSwap(reason)
	}
}

func absClean(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		p = a
	}
	return filepath.Clean(p)
}
