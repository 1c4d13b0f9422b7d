// Package storage provides transient storage for audio awaiting transcription.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a handle no longer refers to stored data.
var ErrNotFound = errors.New("storage: artifact not found")

// Handle identifies a stored artifact.
type Handle struct {
	Name string
	Path string
}

// Store is transient storage owned by a single transcription call per handle.
type Store interface {
	Write(ctx context.Context, name string, data []byte) (Handle, error)
	Open(ctx context.Context, h Handle) (io.ReadCloser, error)
	Delete(ctx context.Context, h Handle) error
}

// DirStore stores artifacts as files under a directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string {
	return s.dir
}

// Write stores data under name. Names must be plain file names; an existing
// artifact with the same name is an error.
func (s *DirStore) Write(ctx context.Context, name string, data []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return Handle{}, fmt.Errorf("storage: invalid artifact name %q", name)
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Handle{}, fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return Handle{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Handle{}, fmt.Errorf("close artifact: %w", err)
	}
	return Handle{Name: name, Path: path}, nil
}

// Open returns a reader over a stored artifact.
func (s *DirStore) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(h.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes an artifact. Deleting a missing artifact is not an error.
func (s *DirStore) Delete(_ context.Context, h Handle) error {
	if h.Path == "" {
		return nil
	}
	if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}
