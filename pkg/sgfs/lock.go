package sgfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrWouldBlock is returned by [Locker.TryLock] when the lock is already
// held by another process.
var ErrWouldBlock = errors.New("sgfs: lock would block")

// Locker provides advisory file-based locking using flock(2).
//
// The engine uses a single Locker to guard the disk root for the lifetime
// of the process: two engine processes pointed at the same root fail fast
// at startup instead of silently corrupting each other's buffer pool
// writes. It has no internal mutable state and is safe for concurrent use.
type Locker struct {
	fs FS
}

// NewLocker creates a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs}
}

// Lock represents a held advisory lock. Call [Lock.Close] to release it.
type Lock struct {
	file File
}

// Close releases the lock and closes the underlying file descriptor.
// Idempotent.
func (lk *Lock) Close() error {
	if lk.file == nil {
		return nil
	}
	fd := int(lk.file.Fd())
	unlockErr := syscall.Flock(fd, syscall.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlocking: %w", unlockErr)
	}
	return closeErr
}

// TryLock attempts to acquire an exclusive, non-blocking lock on the file
// at path, creating it (and its parent directory) if necessary.
//
// Returns [ErrWouldBlock] if another process already holds the lock.
func (l *Locker) TryLock(path string) (*Lock, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}
		if mkErr := l.fs.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("creating lock dir: %w", mkErr)
		}
		f, err = l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	return &Lock{file: f}, nil
}
