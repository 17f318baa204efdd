// Package sgfs provides the filesystem abstraction the storage engine reads
// and writes disk-simulation files through.
//
// Sector files, disk.cfg reads, directory setup, and the lock file go
// through an [FS], so tests can swap in a fake implementation for those.
// Not everything does: disk.cfg is written with [WriteFileAtomic] on the
// real filesystem, and internal/config reads sgbd.hujson with os.ReadFile.
package sgfs

import (
	"io"
	"os"
)

// File is an open file handle. [os.File] satisfies this interface.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	Fd() uintptr
	Stat() (os.FileInfo, error)
	Sync() error
}

// FS defines the filesystem operations the engine needs.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	Open(path string) (File, error)
	Create(path string) (File, error)
	OpenFile(path string, flag int, perm os.FileMode) (File, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	Exists(path string) (bool, error)
	Remove(path string) error
	RemoveAll(path string) error
}

var _ File = (*os.File)(nil)
