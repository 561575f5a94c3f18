package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jpaulsen/stampede/internal/domain"
)

var _ BlobStore = (*FSStore)(nil)

// FSStore is a BlobStore on the local filesystem. Writes land in a temp file
// first and are renamed into place, so readers never observe partial blobs.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &FSStore{root: abs}, nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish blob %q: %w", key, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %q: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %q: %w", key, err)
	}
	return data, nil
}

func (s *FSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %q: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob %q: %w", key, err)
	}
	return f, nil
}

// Create returns a streaming writer for large blobs. The blob becomes visible
// under its key only after Close succeeds.
func (s *FSStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".create-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp blob: %w", err)
	}

	return &atomicWriter{file: tmp, target: path}, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %q: %w", key, err)
	}
	return nil
}

func (s *FSStore) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if cleaned == "" || cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

type atomicWriter struct {
	file   *os.File
	target string
	failed bool
	done   bool
}

var _ Aborter = (*atomicWriter)(nil)

func (w *atomicWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write on closed blob writer")
	}
	n, err := w.file.Write(p)
	if err != nil {
		w.failed = true
	}
	return n, err
}

func (w *atomicWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	name := w.file.Name()
	if err := w.file.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if w.failed {
		_ = os.Remove(name)
		return fmt.Errorf("blob writer had a failed write")
	}
	if err := os.Rename(name, w.target); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("failed to publish blob: %w", err)
	}
	return nil
}

// Abort drops the pending blob without publishing it.
func (w *atomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	name := w.file.Name()
	_ = w.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard temp blob: %w", err)
	}
	return nil
}

// Size reports the byte size of a stored blob.
func (s *FSStore) Size(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path, err := s.path(key)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("blob %q: %w", key, domain.ErrNotFound)
		}
		return 0, err
	}
	if info.Mode()&fs.ModeType != 0 {
		return 0, fmt.Errorf("blob %q is not a regular file", key)
	}
	return info.Size(), nil
}
