// Package storage defines the dataset image store used for enrollment images.
package storage

// Provider is the interface for dataset file operations.
// All paths are relative to the dataset root.
type Provider interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}

var _ Provider = (*FS)(nil)
