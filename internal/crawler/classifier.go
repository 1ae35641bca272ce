package crawler

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Selectors holds every CSS selector the crawl depends on. The defaults
// target the retailer's catalog markup; each may be overridden from config.
type Selectors struct {
	// ProductListing identifies a listing page (both the product list and
	// the legacy SEO product shape count).
	ProductListing string `mapstructure:"product_listing"`
	// ProductAnchor yields the href-bearing product links on a listing page.
	ProductAnchor string `mapstructure:"product_anchor"`
	// DepartmentLink yields child department links on a department page.
	DepartmentLink string `mapstructure:"department_link"`
	// DepartmentLabel is queried under the parent of a department link to
	// find its human-readable name.
	DepartmentLabel string `mapstructure:"department_label"`
	// RootDepartment yields the top-level departments on a market home page.
	RootDepartment string `mapstructure:"root_department"`

	ItemNumber string `mapstructure:"item_number"`
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"`
	Price      string `mapstructure:"price"`
	Unit       string `mapstructure:"unit"`
	Metric     string `mapstructure:"metric"`
	Image      string `mapstructure:"image"`
}

// DefaultSelectors returns the selector set for the retailer's catalog.
func DefaultSelectors() Selectors {
	return Selectors{
		ProductListing:  "#productLists .productDetails, .seoProduct",
		ProductAnchor:   "#productLists .productDetails a, .seoProduct",
		DepartmentLink:  ".visualNavContainer a",
		DepartmentLabel: ".categoryContainer a:first-child",
		RootDepartment:  ".departmentLinkBlock a",
		ItemNumber:      "#itemNumber",
		Name:            "#name",
		Type:            "#type",
		Price:           "#price1",
		Unit:            ".productunit",
		Metric:          "#metric",
		Image:           "#productImg",
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.ProductListing, d.ProductListing)
	fill(&s.ProductAnchor, d.ProductAnchor)
	fill(&s.DepartmentLink, d.DepartmentLink)
	fill(&s.DepartmentLabel, d.DepartmentLabel)
	fill(&s.RootDepartment, d.RootDepartment)
	fill(&s.ItemNumber, d.ItemNumber)
	fill(&s.Name, d.Name)
	fill(&s.Type, d.Type)
	fill(&s.Price, d.Price)
	fill(&s.Unit, d.Unit)
	fill(&s.Metric, d.Metric)
	fill(&s.Image, d.Image)
	return s
}

// Classifier decides whether a document is a product listing (leaf) or a
// department page (internal node).
type Classifier struct {
	selector string
	logger   *zap.Logger
}

// NewClassifier builds a Classifier for the listing selector.
func NewClassifier(selectors Selectors, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		selector: selectors.withDefaults().ProductListing,
		logger:   logger,
	}
}

// IsProductListing reports whether doc contains at least one product block.
// A selector failure counts as false, so ambiguous pages are descended into
// rather than harvested.
func (c *Classifier) IsProductListing(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	matches, err := selectAll(doc.Selection, c.selector)
	if err != nil {
		c.logger.Warn("listing selector failed", zap.Error(err))
		return false
	}
	return matches.Length() > 0
}
