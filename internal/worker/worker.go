// Package worker runs crawl passes: walk every root department, enrich the
// collected products, hand them to a sink, and report the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	// Country is the market label copied onto every product.
	Country string
	// HomePath is the market home page used to discover roots when Roots is empty.
	HomePath string
	Roots    []crawler.Department
	// Loop repeats passes until the context ends.
	Loop     bool
	Interval time.Duration
	// SinkName labels write metrics.
	SinkName string
}

// Worker executes crawl passes.
type Worker struct {
	walker    *crawler.Walker
	enricher  *crawler.Enricher
	openSink  crawler.SinkOpener
	notifier  crawler.Notifier
	observers []crawler.PassObserver
	clock     crawler.Clock
	idGen     crawler.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. notifier may be nil.
func New(
	walker *crawler.Walker,
	enricher *crawler.Enricher,
	openSink crawler.SinkOpener,
	notifier crawler.Notifier,
	observers []crawler.PassObserver,
	clock crawler.Clock,
	idGen crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.SinkName == "" {
		cfg.SinkName = "unknown"
	}
	return &Worker{
		walker:    walker,
		enricher:  enricher,
		openSink:  openSink,
		notifier:  notifier,
		observers: observers,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes one pass, or passes forever when looping. Consecutive pass
// starts are at least Interval apart; a pass that overruns is followed
// immediately by the next. Cancellation ends the loop without error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		started := w.clock.Now()
		summary, err := w.RunPass(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				w.logger.Info("crawl canceled", zap.String("pass_id", summary.ID))
				return nil
			}
			return err
		}
		if !w.cfg.Loop {
			return nil
		}

		wait := w.cfg.Interval - w.clock.Now().Sub(started)
		if wait < 0 {
			wait = 0
		}
		w.logger.Info("waiting for next pass", zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("crawl loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunPass performs one full crawl. Recoverable failures are collected in the
// summary; the returned error is fatal (sink failure or cancellation).
func (w *Worker) RunPass(ctx context.Context) (crawler.PassSummary, error) {
	id, err := w.idGen.NewID()
	if err != nil {
		return crawler.PassSummary{}, fmt.Errorf("generate pass id: %w", err)
	}
	summary := crawler.PassSummary{
		ID:        id,
		Country:   w.cfg.Country,
		StartedAt: w.clock.Now(),
	}
	logger := w.logger.With(zap.String("pass_id", id), zap.String("country", w.cfg.Country))
	logger.Info("pass started")

	ctx, span := telemetry.Tracer().Start(ctx, "crawl.pass", trace.WithAttributes(
		attribute.String("pass.id", id),
		attribute.String("pass.country", w.cfg.Country),
	))
	defer span.End()

	errs := &crawler.ErrorLog{}
	collector := crawler.NewCollector()

	roots, err := w.roots(ctx, errs, logger)
	if err != nil {
		return w.fail(span, summary, err)
	}
	summary.Roots = roots
	for _, root := range summary.Roots {
		visited := crawler.NewVisitedSet(root.URL)
		logger.Info("walking root", zap.String("department", root.Name), zap.String("url", root.URL))
		rootCtx, rootSpan := telemetry.Tracer().Start(ctx, "crawl.walk_root",
			trace.WithAttributes(attribute.String("department.url", root.URL)))
		err := w.walker.Walk(rootCtx, visited, collector, errs, crawler.Lineage{root})
		rootSpan.SetAttributes(attribute.Int("departments.visited", visited.Len()))
		rootSpan.End()
		if err != nil {
			return w.fail(span, summary, fmt.Errorf("walk %s: %w", root.URL, err))
		}
		summary.DepartmentsVisited += visited.Len()
	}

	stubs := collector.Stubs()
	summary.StubsCollected = len(stubs)
	logger.Info("walk finished",
		zap.Int("departments", summary.DepartmentsVisited),
		zap.Int("products", len(stubs)),
		zap.Int("errors", errs.Len()),
	)

	if err := ctx.Err(); err != nil {
		return w.fail(span, summary, err)
	}
	sink, err := w.openSink(ctx)
	if err != nil {
		return w.fail(span, summary, fmt.Errorf("open sink: %w", err))
	}
	abort := func(err error) (crawler.PassSummary, error) {
		w.abortSink(sink, logger)
		return w.fail(span, summary, err)
	}
	for i, stub := range stubs {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		logger.Info("enriching product",
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(stubs))),
			zap.String("url", stub.URL),
		)
		product, err := w.enricher.Enrich(ctx, stub, w.cfg.Country, errs)
		if err != nil {
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			summary.ProductsSkipped++
			continue
		}
		if err := sink.Write(ctx, product); err != nil {
			if !errors.Is(err, crawler.ErrRowRejected) {
				return abort(fmt.Errorf("write %s: %w", stub.URL, err))
			}
			errs.Append(crawler.StageSink, stub.URL, err)
			metrics.ObserveError(crawler.StageSink)
			summary.RowsRejected++
			logger.Warn("row rejected", zap.String("url", stub.URL), zap.Error(err))
			continue
		}
		summary.ProductsWritten++
		metrics.ObserveProductWritten(w.cfg.SinkName)
	}
	if err := sink.Finalize(ctx); err != nil {
		return w.fail(span, summary, fmt.Errorf("finalize sink: %w", err))
	}

	summary.FinishedAt = w.clock.Now()
	summary.Errors = errs.Lines()
	metrics.ObservePass("ok", summary.Duration(), summary.ProductsWritten)
	span.SetAttributes(
		attribute.Int("products.written", summary.ProductsWritten),
		attribute.Int("errors", errs.Len()),
	)
	logger.Info("pass finished",
		zap.Duration("duration", summary.Duration()),
		zap.Int("written", summary.ProductsWritten),
		zap.Int("skipped", summary.ProductsSkipped),
		zap.Int("rejected", summary.RowsRejected),
		zap.Int("errors", errs.Len()),
	)

	if errs.Len() > 0 {
		w.notify(ctx, summary, logger)
	}
	for _, o := range w.observers {
		o.RecordPass(summary)
	}
	return summary, nil
}

// roots returns the configured roots, or discovers them from the market home
// page. Discovery failures are recorded and yield an empty pass; only
// cancellation is returned as an error.
func (w *Worker) roots(ctx context.Context, errs *crawler.ErrorLog, logger *zap.Logger) ([]crawler.Department, error) {
	if len(w.cfg.Roots) > 0 {
		out := make([]crawler.Department, len(w.cfg.Roots))
		copy(out, w.cfg.Roots)
		return out, nil
	}
	if w.cfg.HomePath == "" {
		logger.Warn("market has no roots and no home page")
		return nil, nil
	}
	roots, err := w.walker.DiscoverRoots(ctx, w.cfg.HomePath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errs.Append(crawler.StageRoots, w.cfg.HomePath, err)
		metrics.ObserveError(crawler.StageRoots)
		logger.Warn("root discovery failed", zap.String("url", w.cfg.HomePath), zap.Error(err))
		return nil, nil
	}
	if len(roots) == 0 {
		errs.Append(crawler.StageRoots, w.cfg.HomePath, crawler.ErrNoRoots)
		metrics.ObserveError(crawler.StageRoots)
		logger.Warn("home page listed no departments", zap.String("url", w.cfg.HomePath))
	}
	return roots, nil
}

// abortSink releases a sink whose pass failed. Sinks without an open
// destination have nothing to release.
func (w *Worker) abortSink(sink crawler.Sink, logger *zap.Logger) {
	a, ok := sink.(crawler.Aborter)
	if !ok {
		return
	}
	if err := a.Abort(); err != nil {
		logger.Warn("abort sink failed", zap.Error(err))
	}
}

func (w *Worker) notify(ctx context.Context, summary crawler.PassSummary, logger *zap.Logger) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, summary); err != nil {
		logger.Error("notification failed", zap.Error(err))
	}
}

func (w *Worker) fail(span trace.Span, summary crawler.PassSummary, err error) (crawler.PassSummary, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "pass failed")
	summary.FinishedAt = w.clock.Now()
	metrics.ObservePass("failed", summary.Duration(), summary.ProductsWritten)
	return summary, err
}
