package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrRunLocked is returned when another process already holds the run lock.
var ErrRunLocked = errors.New("another csync run is in progress")

const lockFileName = "csync.lock"

// RunLock keeps two runs from sharing one fingerprint store.
type RunLock struct {
	dir   string
	flock *flock.Flock
}

// NewRunLock creates an unlocked lock on dir/csync.lock.
func NewRunLock(dir string) *RunLock {
	return &RunLock{dir: dir, flock: flock.New(filepath.Join(dir, lockFileName))}
}

// Lock acquires the lock without blocking.
func (l *RunLock) Lock() error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", l.dir, err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	if !locked {
		return ErrRunLocked
	}
	return nil
}

// Unlock releases the lock. It is a no-op when this process does not hold it.
func (l *RunLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.flock.Path()
}
