// Package notify relays pass summaries that contain errors to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Multi fans a summary out to every wrapped notifier.
type Multi []crawler.Notifier

// Notify calls every notifier, even after a failure, and joins the errors.
func (m Multi) Notify(ctx context.Context, summary crawler.PassSummary) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subject is the one-line headline for a summary.
func Subject(summary crawler.PassSummary) string {
	return fmt.Sprintf("catalog crawl %s (%s): %d errors", summary.ID, summary.Country, len(summary.Errors))
}

// Body renders the summary as plain text, one error per line.
func Body(summary crawler.PassSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pass:        %s\n", summary.ID)
	fmt.Fprintf(&b, "Country:     %s\n", summary.Country)
	fmt.Fprintf(&b, "Started:     %s\n", summary.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Duration:    %s\n", summary.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "Departments: %d\n", summary.DepartmentsVisited)
	fmt.Fprintf(&b, "Products:    %d written, %d skipped, %d rejected\n",
		summary.ProductsWritten, summary.ProductsSkipped, summary.RowsRejected)
	b.WriteString("\nErrors:\n")
	for _, line := range summary.Errors {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func observe(channel string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveNotification(channel, status)
}
