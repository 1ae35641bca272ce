// Package gcs writes output objects to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// Scheme prefixes object URIs handled by this package.
const Scheme = "gs://"

// Location identifies one object in a bucket.
type Location struct {
	Bucket string
	Object string
}

// String renders the location as a gs:// URI.
func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Object
}

// IsURI reports whether dest names a GCS object.
func IsURI(dest string) bool {
	return strings.HasPrefix(strings.TrimSpace(dest), Scheme)
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (Location, error) {
	trimmed := strings.TrimSpace(uri)
	if !strings.HasPrefix(trimmed, Scheme) {
		return Location{}, fmt.Errorf("object uri %q must start with %s", uri, Scheme)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(trimmed, Scheme), "/")
	if !ok || bucket == "" || strings.Trim(object, "/") == "" {
		return Location{}, fmt.Errorf("object uri %q must name a bucket and an object", uri)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

// ObjectWriter streams into a GCS object. The object becomes visible when
// Close succeeds. An ObjectWriter created by Open also owns its client.
type ObjectWriter struct {
	w          *storage.Writer
	cancel     context.CancelFunc
	client     *storage.Client
	ownsClient bool
}

// NewObjectWriter starts an upload to loc with client.
func NewObjectWriter(ctx context.Context, client *storage.Client, loc Location, contentType string) (*ObjectWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	w := client.Bucket(loc.Bucket).Object(loc.Object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return &ObjectWriter{w: w, cancel: cancel, client: client}, nil
}

// Open creates a client using Application Default Credentials and starts an
// upload to uri.
func Open(ctx context.Context, uri, contentType string) (*ObjectWriter, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	ow, err := NewObjectWriter(ctx, client, loc, contentType)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	ow.ownsClient = true
	return ow, nil
}

// Write buffers p for upload.
func (o *ObjectWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("write object: %w", err)
	}
	return n, nil
}

// Close finalizes the upload and releases an owned client.
func (o *ObjectWriter) Close() error {
	err := o.w.Close()
	o.cancel()
	if closeErr := o.releaseClient(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

// Abort cancels the upload so no object is created, then releases an owned
// client.
func (o *ObjectWriter) Abort() error {
	o.cancel()
	// Close reports the cancellation; the object is not committed either way.
	_ = o.w.Close()
	if err := o.releaseClient(); err != nil {
		return fmt.Errorf("abort object writer: %w", err)
	}
	return nil
}

func (o *ObjectWriter) releaseClient() error {
	if !o.ownsClient {
		return nil
	}
	return o.client.Close()
}
