package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrFetch marks a page that could not be retrieved. The branch that
	// needed it is abandoned; the pass continues.
	ErrFetch = errors.New("fetch failed")
	// ErrRowRejected marks a single product the sink refused. The sink
	// remains usable and the pass continues with the next product.
	ErrRowRejected = errors.New("row rejected")
	// ErrNoRoots is returned when a market yields no root departments.
	ErrNoRoots = errors.New("no root departments")
)

// Fetcher retrieves an absolute URL and parses it as HTML.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Sink consumes finalized products. Any error other than ErrRowRejected is
// fatal to the pass.
type Sink interface {
	Write(ctx context.Context, product Product) error
	Finalize(ctx context.Context) error
}

// Aborter is implemented by sinks that hold a destination open for the pass.
// Abort releases it without committing what was written.
type Aborter interface {
	Abort() error
}

// SinkOpener lazily builds the sink for one pass.
type SinkOpener func(ctx context.Context) (Sink, error)

// Notifier relays a pass summary that contains errors to an operator.
type Notifier interface {
	Notify(ctx context.Context, summary PassSummary) error
}

// PassObserver receives every completed pass summary.
type PassObserver interface {
	RecordPass(summary PassSummary)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pass IDs.
type IDGenerator interface {
	NewID() (string, error)
}
