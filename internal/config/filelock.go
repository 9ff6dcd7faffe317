package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrWouldBlock is returned when a lock is held by another process.
var ErrWouldBlock = errors.New("lock is held by another process")

// LockTimeout bounds how long LockFile waits for a held lock.
const LockTimeout = 2 * time.Second

// LockFile takes an exclusive lock on filename + ".lock", waiting up to
// LockTimeout for another process to release it. The returned func releases
// the lock and removes the lock file.
func LockFile(filename string) (func() error, error) {
	return lockFile(filename, LockTimeout)
}

func lockFile(filename string, timeout time.Duration) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	path := filename + ".lock"
	deadline := time.Now().Add(timeout)
	for {
		f, err := acquireFileLock(path)
		if err == nil {
			return func() error { return releaseFileLock(f) }, nil
		}
		if !errors.Is(err, ErrWouldBlock) || time.Now().After(deadline) {
			return nil, fmt.Errorf("locking %s: %w", filename, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
