// Package storage defines the FileStore interface for reading and writing
// files. It abstracts the underlying storage backend so that callers can
// swap between local disk, cloud object stores, or in-memory implementations
// without changing application code.
//
// The primary use case within isearch is persisting index and mapping
// snapshots: stores read and write them through a Local FileStore, and the
// backup commands copy the same files to an S3-compatible store.
package storage

import (
	"context"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing.
	// If the file already exists it is truncated.
	// Parent directories are created automatically.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// WriteFile stores data under the named path in one step. The write is
	// atomic: a reader never observes a partially written file, even if the
	// process dies mid-write.
	WriteFile(ctx context.Context, path string, data []byte) error

	// List returns the paths of all files under prefix, relative to the
	// store root, in lexical order. A missing prefix yields an empty list.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// ReadFile reads the whole named file from fs.
func ReadFile(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	rc, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Copy streams the named file from src to dst under the same path.
func Copy(ctx context.Context, dst, src FileStore, path string) error {
	rc, err := src.Read(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := dst.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
