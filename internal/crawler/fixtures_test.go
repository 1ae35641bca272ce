package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const testBase = "http://shop.test"

// pageFetcher serves canned HTML keyed by absolute URL and records every request.
type pageFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]error
	requests []string
}

func newPageFetcher(pages map[string]string) *pageFetcher {
	abs := make(map[string]string, len(pages))
	for path, body := range pages {
		abs[testBase+path] = body
	}
	return &pageFetcher{pages: abs, failures: map[string]error{}}
}

func (f *pageFetcher) fail(path string, err error) {
	f.failures[testBase+path] = err
}

func (f *pageFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	f.mu.Lock()
	f.requests = append(f.requests, url)
	body, ok := f.pages[url]
	failure := f.failures[url]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s returned 404", ErrFetch, url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

func (f *pageFetcher) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == testBase+path {
			n++
		}
	}
	return n
}

func stubByURL(c *Collector, url string) (ProductStub, bool) {
	for _, stub := range c.Stubs() {
		if stub.URL == url {
			return stub, true
		}
	}
	return ProductStub{}, false
}

// departmentPage renders a department page whose children are laid out the
// way the catalog does it: an image link plus a labelled cousin link.
func departmentPage(children ...Department) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="visualNavContainer">`)
	for _, c := range children {
		fmt.Fprintf(&b,
			`<div class="tile"><a href="%s"><img src="/i.png"></a>`+
				`<div class="categoryContainer"><a href="%s">%s</a></div></div>`,
			c.URL, c.URL, c.Name)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// listingPage renders a product listing with one anchor per href.
func listingPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="productLists">`)
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<div class="productDetails"><a href="%s">product</a></div>`, h)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func productPage(item, name, typ, price, unit, metric, image string) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	fmt.Fprintf(&b, `<div id="itemNumber">%s</div>`, item)
	fmt.Fprintf(&b, `<div id="name">%s</div>`, name)
	fmt.Fprintf(&b, `<div id="type">%s</div>`, typ)
	fmt.Fprintf(&b, `<span id="price1">%s</span>`, price)
	fmt.Fprintf(&b, `<span class="productunit">%s</span>`, unit)
	fmt.Fprintf(&b, `<div id="metric">%s</div>`, metric)
	if image != "" {
		fmt.Fprintf(&b, `<img id="productImg" src="%s">`, image)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func newTestWalker(t *testing.T, fetcher Fetcher) *Walker {
	t.Helper()
	resolver, err := NewResolver(testBase)
	require.NoError(t, err)
	selectors := DefaultSelectors()
	return NewWalker(fetcher, NewClassifier(selectors, nil), selectors, resolver, nil)
}

func newTestEnricher(t *testing.T, fetcher Fetcher) *Enricher {
	t.Helper()
	resolver, err := NewResolver(testBase)
	require.NoError(t, err)
	return NewEnricher(fetcher, DefaultSelectors(), resolver, nil)
}
