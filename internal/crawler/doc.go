// Package crawler implements the hierarchical catalog crawl: the listing
// classifier, the depth-first tree walker, the product collector and the
// product enricher. Passes are driven by package worker.
package crawler
