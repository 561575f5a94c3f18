package storage

import (
	"context"
	"io"
)

// BlobStore holds campaign assets and job outputs: base design PDFs,
// uploaded recipient lists, per-recipient documents, and finished archives.
// Keys are slash-separated relative paths, e.g. jobs/<jobID>/archive.zip.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Create(ctx context.Context, key string) (io.WriteCloser, error)
	Delete(ctx context.Context, key string) error
}

// Aborter is implemented by writers from Create that can discard the pending
// blob instead of publishing it. Callers should prefer Abort over Close when
// a write sequence failed partway.
type Aborter interface {
	Abort() error
}
