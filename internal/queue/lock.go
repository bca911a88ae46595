package queue

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileLock is an advisory exclusive lock held on a sentinel file. The platform
// drops it when the holding process exits.
type FileLock struct {
	file *os.File
}

// AcquireLock blocks until it holds the exclusive lock on path, creating the
// file and its directory when missing. There is no timeout.
func AcquireLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return &FileLock{file: f}, nil
}

// Release unlocks and closes the sentinel file.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
