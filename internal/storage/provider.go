// Package storage is the file-system abstraction for the local convention
// tree. Paths are relative to the project root and may use forward slashes.
package storage

import "time"

// FileInfo describes one markdown file under the project root.
type FileInfo struct {
	Path      string // root-relative, forward slashes
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for convention tree file operations.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// RemoveAll removes the directory tree at dir.
	RemoveAll(dir string) error
	// MkdirAll creates dir and its parents.
	MkdirAll(dir string) error
	// Exists reports whether path exists.
	Exists(path string) (bool, error)
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}

var _ Provider = (*FS)(nil)
