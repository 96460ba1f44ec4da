package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLocked is returned when another process holds the lock.
	ErrLocked = errors.New("transport: lock held by another process")
	// ErrLockUnsupported is returned where advisory file locks are unavailable.
	ErrLockUnsupported = errors.New("transport: file locks unsupported on this platform")
)

// Lock is an advisory exclusive lock on a file. The holder's PID is written
// into the file for diagnostics.
type Lock struct {
	path string
	file *os.File
}

// TryLock acquires the lock at path without blocking.
func TryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := flock(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, file: f}, nil
}

// AcquireLock polls TryLock until it succeeds or ctx ends.
func AcquireLock(ctx context.Context, path string, every time.Duration) (*Lock, error) {
	for {
		l, err := TryLock(path)
		if err == nil || !errors.Is(err, ErrLocked) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", path, errors.Join(ctx.Err(), err))
		case <-time.After(every):
		}
	}
}

// IsLocked reports whether some process currently holds the lock at path.
// The second result is false when the answer is unknown.
func IsLocked(path string) (locked, known bool) {
	l, err := TryLock(path)
	switch {
	case err == nil:
		_ = l.Unlock()
		return false, true
	case errors.Is(err, ErrLocked):
		return true, true
	default:
		return false, false
	}
}

// HolderPID returns the PID recorded in the lock file, or 0.
func HolderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Unlock releases the lock. The file is left in place so a racing
// contender never locks an unlinked inode.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := funlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
