package watcher

import (
	"context"
	"time"
)

// Operation is the kind of change observed on a file.
type Operation int

const (
	// OpCreate is a file that did not exist before.
	OpCreate Operation = iota
	// OpModify is a change to an existing file.
	OpModify
	// OpDelete is a file that no longer exists.
	OpDelete
	// OpRename is a file moved away from the watched path.
	OpRename
)

// String returns the log name of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a watched file.
type FileEvent struct {
	// Path is the absolute path of the watched file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Watcher reports changes to a fixed set of files.
type Watcher interface {
	// Start watches paths and blocks until ctx is cancelled or Stop is
	// called.
	Start(ctx context.Context, paths ...string) error

	// Stop releases resources and closes both channels. Safe to call more
	// than once.
	Stop() error

	// Events delivers debounced batches, sorted by path.
	Events() <-chan []FileEvent

	// Errors delivers non-fatal errors; watching continues.
	Errors() <-chan error
}

// Options configures watching.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted (default: 500ms).
	DebounceWindow time.Duration

	// PollInterval is the stat interval in polling mode (default: 2s).
	PollInterval time.Duration

	// EventBufferSize is the batch channel capacity (default: 16).
	EventBufferSize int

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 16,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
