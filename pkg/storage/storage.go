// Package storage provides a pluggable byte-storage backend for
// transfer temp files and quarantine, so the broker can run against
// local disk or an S3-compatible object store without the transfer
// engine knowing which.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Stat/ReadAt/Remove for a missing key.
var ErrNotExist = errors.New("storage: object does not exist")

// Backend is the pluggable storage surface consumed by pkg/transfer
// and pkg/security for temp file and quarantine I/O.
type Backend interface {
	// Create opens key for writing from scratch, truncating any
	// existing object.
	Create(ctx context.Context, key string) (io.WriteCloser, error)

	// WriteAt writes data at the given byte offset, creating the
	// object if it doesn't exist. Used for out-of-order chunk writes.
	WriteAt(ctx context.Context, key string, offset int64, data []byte) error

	// ReadAt reads data at the given byte offset.
	ReadAt(ctx context.Context, key string, offset int64, length int) ([]byte, error)

	// Open returns a reader over the full object, for sequential
	// download streaming.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns the object's size in bytes.
	Stat(ctx context.Context, key string) (int64, error)

	// Remove deletes key. Returns nil if it doesn't exist.
	Remove(ctx context.Context, key string) error

	// SecureDelete overwrites and removes key (see pkg/security.SecureDelete
	// for the local semantics; backends without in-place overwrite, like
	// S3, fall back to a single delete and rely on bucket versioning or
	// lifecycle rules for true destruction).
	SecureDelete(ctx context.Context, key string) error
}
