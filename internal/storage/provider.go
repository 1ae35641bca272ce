// Package storage resolves output destinations for the file sink. A
// destination is either a local path or a gs://bucket/object URI.
package storage

import (
	"context"
	"io"

	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

// Opener returns a writer for one destination.
type Opener func(ctx context.Context, dest, contentType string) (io.WriteCloser, error)

// OpenDestination creates dest for writing. GCS objects are committed when
// the writer is closed.
func OpenDestination(ctx context.Context, dest, contentType string) (io.WriteCloser, error) {
	if gcs.IsURI(dest) {
		return gcs.Open(ctx, dest, contentType)
	}
	return local.Create(dest)
}
