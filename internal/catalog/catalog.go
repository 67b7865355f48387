package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format the catalog query language expects.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// LogFunc receives progress messages from a client. *slog.Logger.Info
// satisfies it.
type LogFunc func(msg string, args ...any)

// Client searches a product catalog and downloads products to disk.
type Client interface {
	Search(ctx context.Context, filter Filter, logFn LogFunc) (*SearchResult, error)
	Download(ctx context.Context, products []Product, outputDir string, logFn LogFunc) error
}

// Filter narrows a catalog search. Empty fields are not constrained.
type Filter struct {
	Polygon         string
	Begin           time.Time
	End             time.Time
	Product         string
	ProcessingLevel string
	ProcessingMode  string
}

// Query renders the filter in the catalog full-text query syntax.
func (f Filter) Query() string {
	var clauses []string

	if f.Polygon != "" {
		clauses = append(clauses, fmt.Sprintf(`footprint:"Intersects(%s)"`, f.Polygon))
	}

	if !f.Begin.IsZero() || !f.End.IsZero() {
		begin, end := "*", "NOW"
		if !f.Begin.IsZero() {
			begin = f.Begin.UTC().Format(TimestampLayout)
		}

		if !f.End.IsZero() {
			end = f.End.UTC().Format(TimestampLayout)
		}

		clauses = append(clauses,
			fmt.Sprintf("beginPosition:[%s TO %s]", begin, end),
			fmt.Sprintf("endPosition:[%s TO %s]", begin, end),
		)
	}

	if f.Product != "" {
		clauses = append(clauses, "producttype:"+f.Product)
	}

	if f.ProcessingLevel != "" {
		clauses = append(clauses, "processinglevel:"+f.ProcessingLevel)
	}

	if f.ProcessingMode != "" {
		clauses = append(clauses, "processingmode:"+f.ProcessingMode)
	}

	if len(clauses) == 0 {
		return "*"
	}

	return strings.Join(clauses, " AND ")
}

// Product describes one downloadable file. Callers above the client treat it
// as opaque.
type Product struct {
	UUID          string
	Identifier    string
	Filename      string
	Size          string
	IngestionDate time.Time
}

// LocalName is the file name the product is stored under.
func (p Product) LocalName() string {
	return p.Identifier + ".nc"
}

// SafeIdentifier reports whether id names a single file inside the storage
// directory. Identifiers come from the catalog and are not trusted.
func SafeIdentifier(id string) bool {
	switch id {
	case "", ".", "..":
		return false
	}

	return filepath.Base(id) == id && !strings.ContainsAny(id, `/\`)
}

// SearchResult holds the products matching a filter.
type SearchResult struct {
	Products   []Product
	TotalCount int
}
