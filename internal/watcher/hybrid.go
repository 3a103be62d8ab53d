package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch modes reported by Mode.
const (
	ModeFsnotify = "fsnotify"
	ModePolling  = "polling"
)

// HybridWatcher watches files with fsnotify, falling back to polling.
type HybridWatcher struct {
	opts      Options
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error

	targets map[string]struct{}
	mode    atomic.Value // string

	stopOnce  sync.Once
	stopCh    chan struct{}
	forwarded sync.WaitGroup

	mu      sync.RWMutex // guards errors against send-after-close
	stopped bool

	dropped atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a watcher. Nothing is watched until Start.
func NewHybridWatcher(opts Options) *HybridWatcher {
	opts = opts.WithDefaults()
	h := &HybridWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 8),
		targets:   make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	h.mode.Store("")

	h.forwarded.Add(1)
	go h.forward()
	return h
}

// Mode returns ModeFsnotify or ModePolling once Start has chosen one.
func (h *HybridWatcher) Mode() string {
	return h.mode.Load().(string)
}

// DroppedBatches counts batches discarded because Events was full.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.dropped.Load()
}

// Start watches paths until ctx is cancelled or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return fmt.Errorf("watcher: no paths to watch")
	}
	var abs []string
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		a = filepath.Clean(a)
		if _, dup := h.targets[a]; !dup {
			h.targets[a] = struct{}{}
			abs = append(abs, a)
		}
	}

	if !h.opts.ForcePolling {
		fsw, err := h.openFsnotify(abs)
		if err == nil {
			h.mode.Store(ModeFsnotify)
			slog.Info("watch_started", slog.String("mode", ModeFsnotify), slog.Any("paths", abs))
			return h.runFsnotify(ctx, fsw)
		}
		slog.Warn("watch_fsnotify_unavailable", slog.String("error", err.Error()))
	}

	h.mode.Store(ModePolling)
	slog.Info("watch_started", slog.String("mode", ModePolling), slog.Any("paths", abs),
		slog.Duration("interval", h.opts.PollInterval))
	return h.runPolling(ctx, abs)
}

func (h *HybridWatcher) openFsnotify(paths []string) (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, seen := dirs[dir]; seen {
			continue
		}
		dirs[dir] = struct{}{}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return fsw, nil
}

func (h *HybridWatcher) runFsnotify(ctx context.Context, fsw *fsnotify.Watcher) error {
	defer func() { _ = fsw.Close() }()
	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			h.handleFsnotify(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) handleFsnotify(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if _, watched := h.targets[path]; !watched {
		return
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	h.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

func (h *HybridWatcher) runPolling(ctx context.Context, paths []string) error {
	p := newPoller(paths)
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case now := <-ticker.C:
			for _, e := range p.poll(now) {
				h.debouncer.Add(e)
			}
		}
	}
}

func (h *HybridWatcher) forward() {
	defer h.forwarded.Done()
	for batch := range h.debouncer.Output() {
		select {
		case h.events <- batch:
		default:
			h.dropped.Add(1)
			slog.Warn("watch_batch_dropped", slog.Int("batch_size", len(batch)))
		}
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
		slog.Warn("watch_error", slog.String("error", err.Error()))
	}
}

// Stop stops watching and closes Events and Errors.
func (h *HybridWatcher) Stop() error {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.debouncer.Stop()
		h.forwarded.Wait()
		close(h.events)

		h.mu.Lock()
		h.stopped = true
		close(h.errors)
		h.mu.Unlock()
	})
	return nil
}

// Events delivers debounced batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors delivers non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}
