package crawler

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

var errEmptyLineage = errors.New("walk requires a non-empty lineage")

// Walker descends the category tree depth first. Each node is either a
// listing (terminal: its products are collected) or a department (its
// children are enumerated and walked in document order).
type Walker struct {
	fetcher    Fetcher
	classifier *Classifier
	selectors  Selectors
	resolver   *Resolver
	logger     *zap.Logger
}

// NewWalker wires a Walker.
func NewWalker(
	fetcher Fetcher,
	classifier *Classifier,
	selectors Selectors,
	resolver *Resolver,
	logger *zap.Logger,
) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		fetcher:    fetcher,
		classifier: classifier,
		selectors:  selectors.withDefaults(),
		resolver:   resolver,
		logger:     logger,
	}
}

// Walk visits the last department of lineage. Fetch failures are recorded in
// errs and end only the current branch. The returned error is non-nil only
// when ctx is done or lineage is empty.
func (w *Walker) Walk(
	ctx context.Context,
	visited *VisitedSet,
	collector *Collector,
	errs *ErrorLog,
	lineage Lineage,
) error {
	node, ok := lineage.Last()
	if !ok {
		return errEmptyLineage
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := w.resolver.Resolve(node.URL)
	doc, err := w.fetcher.Fetch(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.ObservePage(StageDepartment, "error")
		metrics.ObserveError(StageDepartment)
		errs.Append(StageDepartment, target, err)
		w.logger.Warn("department fetch failed",
			zap.String("url", target),
			zap.Int("depth", len(lineage)),
			zap.Error(err),
		)
		return nil
	}
	metrics.ObservePage(StageDepartment, "ok")

	if w.classifier.IsProductListing(doc) {
		n := w.collectProducts(doc, collector, lineage)
		w.logger.Debug("listing collected",
			zap.String("department", node.Name),
			zap.String("url", node.URL),
			zap.Int("products", n),
		)
		return nil
	}
	return w.descend(ctx, doc, visited, collector, errs, lineage)
}

// collectProducts upserts one stub per navigable product anchor. The stub
// carries lineage as passed in: the listing belongs to the deepest department
// already on the path.
func (w *Walker) collectProducts(doc *goquery.Document, collector *Collector, lineage Lineage) int {
	anchors, err := selectAll(doc.Selection, w.selectors.ProductAnchor)
	if err != nil {
		w.logger.Warn("product anchor selector failed", zap.Error(err))
		return 0
	}
	count := 0
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || href == "#" {
			return
		}
		collector.Upsert(ProductStub{URL: href, Lineage: lineage})
		count++
	})
	return count
}

func (w *Walker) descend(
	ctx context.Context,
	doc *goquery.Document,
	visited *VisitedSet,
	collector *Collector,
	errs *ErrorLog,
	lineage Lineage,
) error {
	links, err := selectAll(doc.Selection, w.selectors.DepartmentLink)
	if err != nil {
		w.logger.Warn("department link selector failed", zap.Error(err))
		return nil
	}
	for i := range links.Nodes {
		link := links.Eq(i)
		href, ok := link.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			continue
		}
		// The label lives in a cousin node, reachable from the link's parent.
		name, ok := lastText(link.Parent(), w.selectors.DepartmentLabel)
		if !ok || name == "" {
			continue
		}
		if !visited.MarkIfNew(href) {
			continue
		}
		child := Department{Name: name, URL: href}
		w.logger.Debug("department", zap.String("name", name), zap.String("url", href), zap.Int("depth", len(lineage)))
		if err := w.Walk(ctx, visited, collector, errs, lineage.Extend(child)); err != nil {
			return err
		}
	}
	return nil
}

// DiscoverRoots reads the top-level departments from a market home page.
// Duplicate hrefs keep their first occurrence.
func (w *Walker) DiscoverRoots(ctx context.Context, homeHref string) ([]Department, error) {
	target := w.resolver.Resolve(homeHref)
	doc, err := w.fetcher.Fetch(ctx, target)
	if err != nil {
		metrics.ObservePage(StageRoots, "error")
		return nil, err
	}
	metrics.ObservePage(StageRoots, "ok")

	links, err := selectAll(doc.Selection, w.selectors.RootDepartment)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var roots []Department
	links.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || href == "#" {
			return
		}
		name := normalizeName(a.Text())
		if name == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		roots = append(roots, Department{Name: name, URL: href})
	})
	return roots, nil
}
