// Package source defines the contract every chain scraper implements and the
// shared fetch machinery (rate limiting, retry, pagination, credential
// lifecycle) the shapes compose. Site-specific "what does this markup mean"
// logic stays outside the engine as pure parse functions.
package source

import (
	"context"

	"github.com/bottlescout/price-ingest/internal/domain"
)

// Page is one opaque catalog page obtained from a chain. The engine never
// inspects Body; it only routes pages to the owning source's parser.
type Page struct {
	Chain domain.Chain
	// StoreTag is the originating store identifier for store-scoped chains,
	// empty for national-catalog sources
	StoreTag string
	// Category is the catalog section this page came from, when the chain
	// paginates per category
	Category string
	// Number is the 1-based page number within its category/store
	Number int
	Body   []byte
}

// ParseFunc is a pure, chain-specific page parser. It returns the records it
// could extract plus the count of malformed items it skipped; it must skip
// individual items, never reject a whole page.
type ParseFunc func(chain domain.Chain, storeTag string, body []byte) ([]domain.ProductRecord, int)

// Source obtains raw catalog pages for one chain and parses each into
// normalized product records. The plain HTTP/HTML shape and the
// browser-automated shape both satisfy this contract.
type Source interface {
	// Chain returns the chain this source ingests
	Chain() domain.Chain

	// Mode reports whether the chain is broadcast- or store-scope-priced
	Mode() domain.PricingMode

	// Authenticated reports whether the pass depends on credentials. A clean
	// zero-item pass of an authenticated source is recorded failed.
	Authenticated() bool

	// FetchPages streams catalog pages to visit in fetch order. Rate limiting
	// and retry are applied internally; a page, category or store that
	// exhausts its retry budget is logged and skipped, never aborts the
	// chain. The count of skipped pages is returned so callers can fold it
	// into the run's failure totals. Only context cancellation or a visit
	// error stops the stream.
	FetchPages(ctx context.Context, visit func(ctx context.Context, page Page) error) (int, error)

	// ParsePage parses one page into normalized records, skipping malformed
	// items. Returns the records and the skipped-item count.
	ParsePage(page Page) ([]domain.ProductRecord, int)
}
