package helper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked means another process on this host holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// AcquireLock takes an exclusive, non-blocking file lock at lockPath and returns its release
// function.
func AcquireLock(lockPath string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to attempt lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
	}

	return func() {
		_ = fileLock.Unlock()
	}, nil
}

// JobLockPath is the lock file guarding one worker run of a job.
func JobLockPath(dir, kind string, jobID uint) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.lock", kind, jobID))
}
