package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/onlitec/remotebroker/pkg/security"
)

// LocalBackend stores objects as files under a root directory. Keys
// are joined onto root after a path-traversal check; they are expected
// to already be safe filenames (e.g. "transfer_<uuid>_<name>").
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a LocalBackend rooted at dir, creating it if
// necessary.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", dir, err)
	}
	return &LocalBackend{root: dir}, nil
}

func (b *LocalBackend) path(key string) (string, error) {
	full := filepath.Join(b.root, filepath.Clean(key))
	rel, err := filepath.Rel(b.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("storage: key %q escapes root", key)
	}
	return full, nil
}

func (b *LocalBackend) Create(_ context.Context, key string) (io.WriteCloser, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
}

func (b *LocalBackend) WriteAt(_ context.Context, key string, offset int64, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("storage: open %s for write: %w", key, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("storage: write %s at %d: %w", key, offset, err)
	}
	return nil
}

func (b *LocalBackend) ReadAt(_ context.Context, key string, offset int64, length int) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: read %s at %d: %w", key, offset, err)
	}
	return buf[:n], nil
}

func (b *LocalBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	return f, nil
}

func (b *LocalBackend) Stat(_ context.Context, key string) (int64, error) {
	path, err := b.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotExist
		}
		return 0, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return info.Size(), nil
}

func (b *LocalBackend) Remove(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

func (b *LocalBackend) SecureDelete(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	return security.SecureDelete(path)
}
