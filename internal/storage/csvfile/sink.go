// Package csvfile implements the flat-file product sink.
//
// The format is a fixed header line followed by one line per product. Every
// field is wrapped in double quotes with embedded quotes doubled, so the
// output parses with any RFC 4180 reader.
package csvfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// ContentType is attached to uploaded objects.
const ContentType = "text/csv; charset=utf-8"

// Sink writes products to one file for the duration of a pass.
type Sink struct {
	w      *bufio.Writer
	closer io.Closer
	done   bool
}

// New writes the header to dst and returns a Sink that owns dst.
func New(dst io.WriteCloser) (*Sink, error) {
	s := &Sink{w: bufio.NewWriter(dst), closer: dst}
	if _, err := s.w.WriteString(crawler.FileHeader + "\n"); err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return s, nil
}

// Open creates dest (a local path or gs:// URI) through open and writes the
// header. A nil open uses storage.OpenDestination.
func Open(ctx context.Context, dest string, open storage.Opener) (*Sink, error) {
	if open == nil {
		open = storage.OpenDestination
	}
	dst, err := open(ctx, dest, ContentType)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dest, err)
	}
	return New(dst)
}

// Write appends one product line. Any failure is fatal to the pass.
func (s *Sink) Write(_ context.Context, product crawler.Product) error {
	if s.done {
		return fmt.Errorf("write after finalize")
	}
	if _, err := s.w.WriteString(FormatLine(product.Fields())); err != nil {
		return fmt.Errorf("write product %s: %w", product.URL, err)
	}
	return nil
}

// Finalize flushes buffered lines and closes the destination.
func (s *Sink) Finalize(_ context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	flushErr := s.w.Flush()
	closeErr := s.closer.Close()
	if flushErr != nil {
		return fmt.Errorf("flush output: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close output: %w", closeErr)
	}
	return nil
}

// Abort closes the destination without flushing buffered lines. A
// destination that can discard its data, such as a GCS upload, is aborted
// instead of closed so nothing is committed.
func (s *Sink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if a, ok := s.closer.(interface{ Abort() error }); ok {
		if err := a.Abort(); err != nil {
			return fmt.Errorf("abort output: %w", err)
		}
		return nil
	}
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// FormatLine quotes every field and joins them into one newline-terminated line.
func FormatLine(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}
