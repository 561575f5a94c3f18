package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"

	"github.com/jpaulsen/stampede/internal/storage"
	"go.uber.org/multierr"
)

// Entry names one document going into an archive.
type Entry struct {
	// Name is the file name inside the zip.
	Name string
	// Key is the blob key of the source document.
	Key string
}

// Builder assembles finished per-recipient documents into a single zip blob.
// Documents are streamed entry by entry, so archives larger than memory work.
type Builder struct {
	store storage.BlobStore
}

func NewBuilder(store storage.BlobStore) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &Builder{store: store}, nil
}

// Build writes a zip of all entries to destKey and returns its byte size.
// On any failure the destination blob is discarded, never half-published.
func (b *Builder) Build(ctx context.Context, destKey string, entries []Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, fmt.Errorf("archive needs at least one entry")
	}

	w, err := b.store.Create(ctx, destKey)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive blob: %w", err)
	}

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	if err := b.addEntries(ctx, zw, entries); err != nil {
		err = multierr.Append(err, zw.Close())
		return 0, multierr.Append(err, abort(w))
	}

	if err := zw.Close(); err != nil {
		err = fmt.Errorf("failed to finalize archive: %w", err)
		return 0, multierr.Append(err, abort(w))
	}

	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to publish archive: %w", err)
	}

	return cw.n, nil
}

func (b *Builder) addEntries(ctx context.Context, zw *zip.Writer, entries []Entry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name == "" || entry.Key == "" {
			return fmt.Errorf("archive entry needs both name and key")
		}

		if err := b.addEntry(ctx, zw, entry); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) addEntry(ctx context.Context, zw *zip.Writer, entry Entry) error {
	rc, err := b.store.Open(ctx, entry.Key)
	if err != nil {
		return fmt.Errorf("failed to open document %q: %w", entry.Key, err)
	}
	defer rc.Close()

	fw, err := zw.Create(entry.Name)
	if err != nil {
		return fmt.Errorf("failed to start archive entry %q: %w", entry.Name, err)
	}

	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("failed to copy document %q into archive: %w", entry.Key, err)
	}
	return nil
}

func abort(w io.WriteCloser) error {
	if a, ok := w.(storage.Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
