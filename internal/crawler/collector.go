package crawler

import (
	"sort"
	"sync"
)

// Collector maps product URL to the most recently discovered stub. A product
// cross-listed under two branches keeps the lineage of the later write.
type Collector struct {
	mu    sync.Mutex
	stubs map[string]ProductStub
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{stubs: make(map[string]ProductStub)}
}

// Upsert inserts or replaces the stub keyed by its URL.
func (c *Collector) Upsert(stub ProductStub) {
	stub.Lineage = stub.Lineage.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stubs[stub.URL] = stub
}

// Len reports the number of distinct product URLs.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stubs)
}

// Stubs returns every stub ordered by URL.
func (c *Collector) Stubs() []ProductStub {
	c.mu.Lock()
	out := make([]ProductStub, 0, len(c.stubs))
	for _, stub := range c.stubs {
		out = append(out, stub)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// VisitedSet records department URLs already traversed for one root.
type VisitedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewVisitedSet returns a set seeded with urls.
func NewVisitedSet(urls ...string) *VisitedSet {
	v := &VisitedSet{seen: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		v.seen[u] = struct{}{}
	}
	return v
}

// MarkIfNew inserts url and reports whether it was absent.
func (v *VisitedSet) MarkIfNew(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[url]; ok {
		return false
	}
	v.seen[url] = struct{}{}
	return true
}

// Len reports the number of visited URLs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
