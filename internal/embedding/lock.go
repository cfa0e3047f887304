package embedding

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ReconcileLock provides cross-process exclusive locking around first-run
// profile/dimension reconciliation, so two cogmemd processes started
// against the same store at once cannot both decide they are the one
// writing the profile slug into the config table.
type ReconcileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewReconcileLock creates a lock file at <dir>/.embedding-profile.lock.
func NewReconcileLock(dir string) *ReconcileLock {
	lockPath := filepath.Join(dir, ".embedding-profile.lock")
	return &ReconcileLock{path: lockPath, flock: flock.New(lockPath)}
}

// Lock acquires the exclusive lock, blocking until it is available.
func (l *ReconcileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire embedding profile lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *ReconcileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire embedding profile lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an already-unlocked lock.
func (l *ReconcileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release embedding profile lock: %w", err)
	}
	l.locked = false
	return nil
}

// IsLocked reports whether the lock is currently held by this process.
func (l *ReconcileLock) IsLocked() bool {
	return l.locked
}
