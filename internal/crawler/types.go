// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// lineageDepth is the number of hierarchy levels recorded on a product.
const lineageDepth = 3

// Department is one node of the category hierarchy: a root department, a
// category or a subcategory.
type Department struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Lineage is the root-to-node path of departments. Index 0 is the root
// department, 1 the category and 2 the subcategory.
type Lineage []Department

// Clone returns a copy that shares no backing array with l.
func (l Lineage) Clone() Lineage {
	out := make(Lineage, len(l))
	copy(out, l)
	return out
}

// Extend returns a new lineage with d appended. l is left untouched so
// sibling branches never observe each other's children.
func (l Lineage) Extend(d Department) Lineage {
	out := make(Lineage, len(l), len(l)+1)
	copy(out, l)
	return append(out, d)
}

// Level returns the department at index i, or the zero Department when the
// lineage is shallower than i.
func (l Lineage) Level(i int) Department {
	if i < 0 || i >= len(l) {
		return Department{}
	}
	return l[i]
}

// Last returns the node currently being visited.
func (l Lineage) Last() (Department, bool) {
	if len(l) == 0 {
		return Department{}, false
	}
	return l[len(l)-1], true
}

// ProductStub is a discovered product page that has not been fetched yet.
type ProductStub struct {
	URL     string
	Lineage Lineage
}

// Product is the enriched record written to a sink.
type Product struct {
	ItemNumber  string     `json:"item_number"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Price       string     `json:"price"`
	Unit        string     `json:"unit"`
	Metric      string     `json:"metric"`
	ImageURL    string     `json:"image_url"`
	URL         string     `json:"url"`
	Country     string     `json:"country"`
	Department  Department `json:"department"`
	Category    Department `json:"category"`
	Subcategory Department `json:"subcategory"`
}

// FileHeader is the fixed first line of the flat file format.
const FileHeader = "Item Number,Name,Type,Price,Unit,Metric,Image URL,URL," +
	"Department,Category,Subcategory,Department URL,Category URL, Subcategory URL"

// Fields returns the 14 flat-file columns in header order.
func (p Product) Fields() []string {
	return []string{
		p.ItemNumber,
		p.Name,
		p.Type,
		p.Price,
		p.Unit,
		p.Metric,
		p.ImageURL,
		p.URL,
		p.Department.Name,
		p.Category.Name,
		p.Subcategory.Name,
		p.Department.URL,
		p.Category.URL,
		p.Subcategory.URL,
	}
}

// Error stages recorded in the ErrorLog.
const (
	StageRoots      = "roots"
	StageDepartment = "department"
	StageProduct    = "product"
	StageSink       = "sink"
)

// ErrorEntry is one recoverable failure observed during a pass.
type ErrorEntry struct {
	Stage string
	URL   string
	Err   error
}

// String renders the entry for humans.
func (e ErrorEntry) String() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

// ErrorLog accumulates recoverable failures across one pass. It is
// append-only and read once at the end of the pass.
type ErrorLog struct {
	entries []ErrorEntry
}

// Append records a failure.
func (l *ErrorLog) Append(stage, url string, err error) {
	l.entries = append(l.entries, ErrorEntry{Stage: stage, URL: url, Err: err})
}

// Len reports the number of recorded failures.
func (l *ErrorLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the recorded failures.
func (l *ErrorLog) Entries() []ErrorEntry {
	out := make([]ErrorEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns one human-readable line per failure.
func (l *ErrorLog) Lines() []string {
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.String())
	}
	return out
}

// PassSummary reports the outcome of one crawl pass.
type PassSummary struct {
	ID                 string       `json:"id"`
	Country            string       `json:"country"`
	StartedAt          time.Time    `json:"started_at"`
	FinishedAt         time.Time    `json:"finished_at"`
	Roots              []Department `json:"roots"`
	DepartmentsVisited int          `json:"departments_visited"`
	StubsCollected     int          `json:"stubs_collected"`
	ProductsWritten    int          `json:"products_written"`
	ProductsSkipped    int          `json:"products_skipped"`
	RowsRejected       int          `json:"rows_rejected"`
	Errors             []string     `json:"errors,omitempty"`
}

// Duration is the wall time spent in the pass.
func (s PassSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
