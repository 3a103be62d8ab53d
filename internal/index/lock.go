package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
)

// lockPollInterval is how often a waiting import retries the lock.
const lockPollInterval = 100 * time.Millisecond

// FileLock is the cross-process lock taken while a snapshot is written, so
// two `verirag index` runs (or an index run and a serve rebuild) never
// interleave writes to the same data directory.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock at <dataDir>/index.lock.
func NewFileLock(dataDir string) *FileLock {
	lockPath := filepath.Join(dataDir, LockFileName)
	return &FileLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// LockContext polls TryLock until it succeeds, ctx is done, or timeout
// elapses. A zero timeout waits for ctx only. Giving up returns an
// ERR_203_INDEX_LOCKED error.
func (l *FileLock) LockContext(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return verrors.New(verrors.ErrCodeIndexLocked, "index is locked by another process", ctx.Err()).
				WithDetail("lock", l.path).
				WithSuggestion("Wait for the running 'verirag index' to finish")
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock. Safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked reports whether this FileLock holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.locked
}
