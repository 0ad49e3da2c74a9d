package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirLock keeps a second engine from opening the same data directory.
type DirLock struct {
	path  string
	flock *flock.Flock
}

// NewDirLock prepares a lock file at <dir>/.indexlab.lock.
func NewDirLock(dir string) *DirLock {
	p := filepath.Join(dir, ".indexlab.lock")
	return &DirLock{path: p, flock: flock.New(p)}
}

// TryLock acquires the lock without blocking and fails if another process
// (or another engine in this process) holds it.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("data directory %s is locked by another engine", filepath.Dir(l.path))
	}
	return nil
}

func (l *DirLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	return l.flock.Unlock()
}
