// Package storage abstracts where the hub persists its bytes: either
// the native filesystem or the host's logical file namespace. Paths
// are slash-separated and relative to the backend's root.
package storage

import (
	"errors"
	"io/fs"
)

// Entry describes one directory entry.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// Backend is the byte-level persistence capability. Implementations
// advertise optional operations through the Can* probes; callers must
// check before using Rename or AppendFile.
type Backend interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	// AppendFile appends data to path, creating it when missing. Only
	// valid when CanAppend reports true.
	AppendFile(path string, data []byte) error
	CanAppend() bool
	// Rename atomically replaces newPath with oldPath where the
	// underlying store supports it. Only valid when CanRename reports
	// true.
	Rename(oldPath, newPath string) error
	CanRename() bool
	Delete(path string) error
	Exists(path string) (bool, error)
	MkdirAll(path string) error
	ReadDir(path string) ([]Entry, error)
	// Size returns the byte size of the file at path.
	Size(path string) (int64, error)
}

// IsNotExist reports whether err marks a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
