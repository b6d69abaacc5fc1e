package ortlib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	lockRetryInterval = 50 * time.Millisecond
)

// FileLock is an exclusive advisory lock on a file, held across processes.
type FileLock struct {
	path string
	file *os.File
}

// AcquireFileLock takes an exclusive lock on path, creating it and its parent
// directory if needed. It retries until timeout elapses; a zero timeout tries once.
func AcquireFileLock(path string, timeout time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory for %q: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %q: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		held, err := tryLock(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to acquire lock %q: %w", path, err)
		}
		if held {
			return &FileLock{path: path, file: file}, nil
		}
		if !time.Now().Before(deadline) {
			_ = file.Close()
			return nil, fmt.Errorf("timed out acquiring lock %q after %s", path, timeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. Calling it more than once is a no-op.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}
