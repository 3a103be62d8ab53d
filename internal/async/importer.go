package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ImportFunc does the actual import, reporting through progress.
type ImportFunc func(ctx context.Context, progress *Progress) error

// Importer runs an ImportFunc once in a background goroutine.
type Importer struct {
	progress *Progress
	fn       ImportFunc

	once   sync.Once
	cancel context.CancelFunc
	doneCh chan struct{}

	mu  sync.Mutex
	err error
}

// NewImporter creates an importer for source.
func NewImporter(source string, fn ImportFunc) *Importer {
	return &Importer{
		progress: NewProgress(source),
		fn:       fn,
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the tracker for this import.
func (im *Importer) Progress() *Progress {
	return im.progress
}

// Start launches the import and returns immediately. Later calls are no-ops.
func (im *Importer) Start(ctx context.Context) {
	im.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		im.mu.Lock()
		im.cancel = cancel
		im.mu.Unlock()
		im.progress.start()
		go im.run(ctx)
	})
}

func (im *Importer) run(ctx context.Context) {
	defer close(im.doneCh)

	start := time.Now()
	err := im.fn(ctx, im.progress)
	im.progress.finish(err)

	im.mu.Lock()
	im.err = err
	im.cancel()
	im.mu.Unlock()

	source := im.progress.Snapshot().Source
	if err != nil {
		slog.Error("background_import_failed",
			slog.String("source", source),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("background_import_done",
		slog.String("source", source),
		slog.Duration("duration", time.Since(start)))
}

// Stop cancels a running import and waits for it. Stop before Start
// returns immediately.
func (im *Importer) Stop() {
	im.mu.Lock()
	cancel := im.cancel
	im.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-im.doneCh
}

// Wait blocks until the import finishes or ctx is done.
func (im *Importer) Wait(ctx context.Context) error {
	select {
	case <-im.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.err
}
