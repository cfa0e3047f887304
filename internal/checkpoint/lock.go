package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RestoreLock provides cross-process exclusive locking around checkpoint
// restores, so two cogmemd processes cannot both write the same store's
// scoped subset at once.
type RestoreLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRestoreLock creates a lock file at <dir>/.checkpoint-restore.lock.
func NewRestoreLock(dir string) *RestoreLock {
	lockPath := filepath.Join(dir, ".checkpoint-restore.lock")
	return &RestoreLock{path: lockPath, flock: flock.New(lockPath)}
}

// Lock acquires the exclusive lock, blocking until it is available.
func (l *RestoreLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire checkpoint restore lock: %w", err)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an already-unlocked lock.
func (l *RestoreLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release checkpoint restore lock: %w", err)
	}
	l.locked = false
	return nil
}

// IsLocked reports whether the lock is currently held by this process.
func (l *RestoreLock) IsLocked() bool {
	return l.locked
}
