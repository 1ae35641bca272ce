package crawler

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrSelector marks a CSS selector that failed to parse. Callers treat it as
// "no match".
var ErrSelector = errors.New("invalid selector")

var matcherCache sync.Map // css -> cascadia.Selector

func compileSelector(css string) (cascadia.Selector, error) {
	if m, ok := matcherCache.Load(css); ok {
		return m.(cascadia.Selector), nil
	}
	m, err := cascadia.Compile(css)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrSelector, css, err)
	}
	matcherCache.Store(css, m)
	return m, nil
}

// selectAll returns every descendant of sel matching css, in document order.
// On a parse error the returned selection is empty, never nil.
func selectAll(sel *goquery.Selection, css string) (*goquery.Selection, error) {
	m, err := compileSelector(css)
	if err != nil {
		return sel.FindNodes(), err
	}
	return sel.FindMatcher(m), nil
}

// lastText returns the trimmed leading text of the last element matching css.
// When a page carries duplicate layout variants the last one is canonical.
// Only the element's first child counts, and only when it is a text node:
// nested markup such as a unit suffix in a span is not part of the value.
func lastText(sel *goquery.Selection, css string) (string, bool) {
	matches, err := selectAll(sel, css)
	if err != nil || matches.Length() == 0 {
		return "", false
	}
	first := matches.Last().Nodes[0].FirstChild
	if first == nil || first.Type != html.TextNode {
		return "", false
	}
	return strings.TrimSpace(first.Data), true
}

// lastAttr returns attribute name of the last element matching css.
func lastAttr(sel *goquery.Selection, css, name string) (string, bool) {
	matches, err := selectAll(sel, css)
	if err != nil || matches.Length() == 0 {
		return "", false
	}
	return matches.Last().Attr(name)
}

// collapseRuns reduces every run of consecutive r to a single r.
func collapseRuns(s string, r rune) string {
	var b strings.Builder
	b.Grow(len(s))
	prev := false
	for _, c := range s {
		if c == r {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteRune(c)
	}
	return b.String()
}

func normalizeName(raw string) string {
	s := strings.ReplaceAll(raw, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(collapseRuns(s, ' '))
}

func normalizeItemNumber(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, ".", ""))
}
