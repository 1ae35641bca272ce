package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Enricher fetches a product page and extracts its attributes.
type Enricher struct {
	fetcher   Fetcher
	selectors Selectors
	resolver  *Resolver
	logger    *zap.Logger
}

// NewEnricher wires an Enricher.
func NewEnricher(fetcher Fetcher, selectors Selectors, resolver *Resolver, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		fetcher:   fetcher,
		selectors: selectors.withDefaults(),
		resolver:  resolver,
		logger:    logger,
	}
}

// Enrich turns stub into a Product. A fetch failure is recorded in errs and
// returned; the caller skips the row. Fields the page does not carry are left
// empty.
func (e *Enricher) Enrich(ctx context.Context, stub ProductStub, country string, errs *ErrorLog) (Product, error) {
	target := e.resolver.Resolve(stub.URL)
	doc, err := e.fetcher.Fetch(ctx, target)
	if err != nil {
		metrics.ObservePage(StageProduct, "error")
		if ctx.Err() == nil {
			metrics.ObserveError(StageProduct)
			errs.Append(StageProduct, target, err)
		}
		return Product{}, fmt.Errorf("enrich %s: %w", stub.URL, err)
	}
	metrics.ObservePage(StageProduct, "ok")

	root := doc.Selection
	s := e.selectors
	text := func(css string) string {
		v, _ := lastText(root, css)
		return v
	}
	image, _ := lastAttr(root, s.Image, "src")

	return Product{
		ItemNumber:  normalizeItemNumber(text(s.ItemNumber)),
		Name:        normalizeName(text(s.Name)),
		Type:        text(s.Type),
		Price:       text(s.Price),
		Unit:        text(s.Unit),
		Metric:      text(s.Metric),
		ImageURL:    image,
		URL:         stub.URL,
		Country:     country,
		Department:  stub.Lineage.Level(0),
		Category:    stub.Lineage.Level(1),
		Subcategory: stub.Lineage.Level(lineageDepth - 1),
	}, nil
}
