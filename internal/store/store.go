package store

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

// Store defines the interface for database operations. The change-detection
// engine composes these primitives inside a per-batch Transaction; nothing
// here does read-then-write for identity; uniqueness is enforced by
// upsert-on-conflict.
type Store interface {
	// Transaction runs fn against a transactional view of the store.
	// The transaction is scoped per logical batch, never per whole run.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// UpsertProducts bulk-upserts products keyed by (chain, source_product_id),
	// overwriting descriptive attributes, and resolves database ids into the
	// given structs
	UpsertProducts(ctx context.Context, products []*schema.Product) error

	// GetStoresByChain returns every store of a chain
	GetStoresByChain(ctx context.Context, chain domain.Chain) ([]*schema.Store, error)

	// GetOrCreateStore resolves a store tag to a store row, auto-creating one
	// with placeholder coordinates on first sighting
	GetOrCreateStore(ctx context.Context, chain domain.Chain, name string) (*schema.Store, error)

	// GetPrices returns existing price rows for the given product and store ids
	GetPrices(ctx context.Context, productIDs []int64, storeIDs []int64) ([]*schema.Price, error)

	// UpsertPrices bulk-upserts price rows keyed by (product_id, store_id)
	UpsertPrices(ctx context.Context, prices []*schema.Price) error

	// DemoteStalePrices clears promo fields and flags rows of one store whose
	// last_seen_at predates the given cutoff. Returns the demoted row count.
	DemoteStalePrices(ctx context.Context, storeID int64, seenBefore time.Time) (int64, error)

	// CreateRun persists a new ingestion run (status running, crash-visible)
	CreateRun(ctx context.Context, run *schema.IngestionRun) error

	// FinishRun transitions a running run to a terminal state with totals.
	// Returns domain.ErrRunTerminal if the run already reached a terminal state.
	FinishRun(ctx context.Context, runID string, status schema.RunStatus, finishedAt time.Time, itemsTotal, itemsChanged, itemsFailed int, log datatypes.JSON) error

	// GetRun retrieves one ingestion run by id
	GetRun(ctx context.Context, runID string) (*schema.IngestionRun, error)

	// GetRunsByChain lists a chain's most recent runs, newest first
	GetRunsByChain(ctx context.Context, chain domain.Chain, limit int) ([]*schema.IngestionRun, error)

	// ListRecentRuns lists the most recent runs across all chains, newest first
	ListRecentRuns(ctx context.Context, limit int) ([]*schema.IngestionRun, error)

	// PruneRuns deletes terminal runs that finished before the cutoff.
	// Returns the deleted row count.
	PruneRuns(ctx context.Context, finishedBefore time.Time) (int64, error)
}
