package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Resolver turns the hrefs found in catalog markup into absolute fetch URLs.
// Hrefs are stored as discovered; only fetches use the resolved form.
type Resolver struct {
	base *url.URL
}

// NewResolver parses base, which must be absolute.
func NewResolver(base string) (*Resolver, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", base)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return &Resolver{base: u}, nil
}

// Resolve returns href resolved against the base URL. An href that does not
// parse is returned unchanged so the fetch fails and is logged.
func (r *Resolver) Resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	abs := r.base.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String()
}
