// Package storage writes and reads files under a fixed root, such as an
// export directory.
package storage

import (
	"io"
	"time"
)

// Entry describes one file under the root.
type Entry struct {
	Path      string
	Size      int64
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for file operations relative to a root.
type Provider interface {
	// List returns an entry for every regular file under dir.
	List(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteFunc atomically replaces path with whatever fn writes. When fn
	// fails the previous file is left untouched.
	WriteFunc(path string, fn func(io.Writer) error) (int64, error)
	// Delete removes the file at path.
	Delete(path string) error
}
