package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/search"
)

// DefaultRetireDelay is how long a replaced snapshot stays open for queries
// that started before the swap.
const DefaultRetireDelay = 30 * time.Second

// ErrNoSnapshot is returned by queries before the first successful Load.
var ErrNoSnapshot = verrors.New(verrors.ErrCodeNoSnapshot, "no index snapshot loaded", nil).
	WithSuggestion("Run 'verirag index <chunks.jsonl>' first")

// Manager owns the active Snapshot. Readers get the current snapshot
// lock-free; Reload and Rebuild build a new one off to the side and swap it
// in atomically.
type Manager struct {
	builder     *Builder
	current     atomic.Pointer[Snapshot]
	retireDelay time.Duration

	mu       sync.Mutex // serialises Reload, Rebuild and Close
	retiring []*retired
	closed   bool
}

type retired struct {
	snap  *Snapshot
	timer *time.Timer
	done  atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetireDelay overrides DefaultRetireDelay. Zero closes replaced
// snapshots immediately.
func WithRetireDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retireDelay = d
	}
}

// NewManager creates a manager with no snapshot loaded.
func NewManager(builder *Builder, opts ...ManagerOption) *Manager {
	m := &Manager{builder: builder, retireDelay: DefaultRetireDelay}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the active snapshot, or nil before the first Load.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Builder returns the builder used for reloads.
func (m *Manager) Builder() *Builder {
	return m.builder
}

// Reload loads the on-disk snapshot and makes it current. On failure the
// previous snapshot stays active.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadLocked(ctx)
}

func (m *Manager) reloadLocked(ctx context.Context) error {
	if m.closed {
		return verrors.InternalError("index manager is closed", nil)
	}

	snap, err := m.builder.Load(ctx)
	if err != nil {
		if old := m.current.Load(); old != nil {
			slog.Warn("snapshot_reload_failed",
				append(verrors.LogAttrs(err), slog.Time("keeping_loaded_at", old.LoadedAt))...)
		}
		return err
	}

	old := m.current.Swap(snap)
	m.retire(old)
	return nil
}

// Rebuild imports jsonlPath and reloads.
func (m *Manager) Rebuild(ctx context.Context, jsonlPath string) (*ImportResult, error) {
	return m.RebuildWithProgress(ctx, jsonlPath, nil)
}

// RebuildWithProgress is Rebuild with an embedding progress callback.
func (m *Manager) RebuildWithProgress(ctx context.Context, jsonlPath string, progress ProgressFunc) (*ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, verrors.InternalError("index manager is closed", nil)
	}
	result, err := m.builder.ImportWithProgress(ctx, jsonlPath, progress)
	if err != nil {
		return nil, err
	}
	if err := m.reloadLocked(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) retire(old *Snapshot) {
	if old == nil {
		return
	}
	if m.retireDelay <= 0 {
		closeSnapshot(old)
		return
	}
	pending := m.retiring[:0]
	for _, r := range m.retiring {
		if !r.done.Load() {
			pending = append(pending, r)
		}
	}

	r := &retired{snap: old}
	r.timer = time.AfterFunc(m.retireDelay, func() {
		closeSnapshot(old)
		r.done.Store(true)
	})
	m.retiring = append(pending, r)
}

func closeSnapshot(s *Snapshot) {
	if err := s.Close(); err != nil {
		slog.Warn("snapshot_close_failed", slog.String("error", err.Error()))
	}
}

// HybridSearch queries the current snapshot. A query that starts before a
// swap finishes on the snapshot it started with.
func (m *Manager) HybridSearch(ctx context.Context, query string, opts search.Options) ([]*search.SearchResult, error) {
	snap := m.current.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap.HybridSearch(ctx, query, opts)
}

// EmbeddingSearch queries the current snapshot's embedding source.
func (m *Manager) EmbeddingSearch(ctx context.Context, query string, limit int) ([]search.ScoredChunk, error) {
	snap := m.current.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap.EmbeddingSearch(ctx, query, limit)
}

// Status reports the current snapshot, or ok=false before the first Load.
func (m *Manager) Status() (Status, bool) {
	snap := m.current.Load()
	if snap == nil {
		return Status{}, false
	}
	return snap.Status(), true
}

// Close closes the current snapshot and any snapshot still waiting to be
// retired.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, r := range m.retiring {
		if r.timer.Stop() {
			closeSnapshot(r.snap)
		}
	}
	m.retiring = nil

	if snap := m.current.Swap(nil); snap != nil {
		return snap.Close()
	}
	return nil
}
