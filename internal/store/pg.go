package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to conservative defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 10
	}
	if maxIdleConns == 0 {
		maxIdleConns = 2
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = time.Hour
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// calculateSafeBatchSize keeps bulk inserts under PostgreSQL's 65535
// extended-protocol parameter limit, with headroom for ON CONFLICT
// parameters and GORM bookkeeping.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	safeBatchSize := max((maxParams-totalHeadroom)/fieldsPerRecord, 1)
	if safeBatchSize > totalRecords {
		return totalRecords
	}
	return safeBatchSize
}

// Transaction runs fn against a transactional view of the store
func (s *pgStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgStore{db: tx})
	})
}

// UpsertProducts bulk-upserts products keyed by (chain, source_product_id),
// overwriting descriptive attributes. RETURNING resolves ids for both
// inserted and conflicting rows.
func (s *pgStore) UpsertProducts(ctx context.Context, products []*schema.Product) error {
	if len(products) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(products), 13)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chain"}, {Name: "source_product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "brand", "category", "abv", "pack_count",
				"unit_volume_ml", "total_volume_ml", "image_url", "product_url",
				"updated_at",
			}),
		}).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		CreateInBatches(products, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert products: %w", err)
	}

	return nil
}

// GetStoresByChain returns every store of a chain
func (s *pgStore) GetStoresByChain(ctx context.Context, chain domain.Chain) ([]*schema.Store, error) {
	var stores []*schema.Store
	err := s.db.WithContext(ctx).
		Where("chain = ?", chain).
		Order("name").
		Find(&stores).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get stores: %w", err)
	}

	return stores, nil
}

// GetOrCreateStore resolves a store tag to a store row, auto-creating one
// with placeholder coordinates on first sighting
func (s *pgStore) GetOrCreateStore(ctx context.Context, chain domain.Chain, name string) (*schema.Store, error) {
	store := schema.Store{
		Chain: chain,
		Name:  name,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}, {Name: "name"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(&store).Error; err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	// ID 0 means the store already existed, so fetch it
	if store.ID == 0 {
		if err := s.db.WithContext(ctx).
			Where("chain = ? AND name = ?", chain, name).
			First(&store).Error; err != nil {
			return nil, fmt.Errorf("failed to get existing store: %w", err)
		}
	}

	return &store, nil
}

// GetPrices returns existing price rows for the given product and store ids
func (s *pgStore) GetPrices(ctx context.Context, productIDs []int64, storeIDs []int64) ([]*schema.Price, error) {
	if len(productIDs) == 0 || len(storeIDs) == 0 {
		return []*schema.Price{}, nil
	}

	var prices []*schema.Price
	err := s.db.WithContext(ctx).
		Where("product_id IN ? AND store_id IN ?", productIDs, storeIDs).
		Find(&prices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get prices: %w", err)
	}

	return prices, nil
}

// UpsertPrices bulk-upserts price rows keyed by (product_id, store_id).
// last_seen_at and price_last_changed_at arrive pre-computed from the
// change-detection engine.
func (s *pgStore) UpsertPrices(ctx context.Context, prices []*schema.Price) error {
	if len(prices) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(prices), 12)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "store_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"price", "promo_price", "promo_text", "promo_expiry",
				"member_only", "stale", "last_seen_at", "price_last_changed_at",
			}),
		}).
		CreateInBatches(prices, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert prices: %w", err)
	}

	return nil
}

// DemoteStalePrices clears promo fields and flags rows of one store whose
// last_seen_at predates the given cutoff
func (s *pgStore) DemoteStalePrices(ctx context.Context, storeID int64, seenBefore time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&schema.Price{}).
		Where("store_id = ? AND last_seen_at < ? AND stale = ?", storeID, seenBefore, false).
		Updates(map[string]interface{}{
			"stale":        true,
			"promo_price":  nil,
			"promo_text":   nil,
			"promo_expiry": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to demote stale prices: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CreateRun persists a new ingestion run
func (s *pgStore) CreateRun(ctx context.Context, run *schema.IngestionRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create ingestion run: %w", err)
	}

	return nil
}

// FinishRun transitions a running run to a terminal state with totals.
// The WHERE clause keeps terminal rows immutable: a finished run never
// reopens, whatever the caller races against.
func (s *pgStore) FinishRun(ctx context.Context, runID string, status schema.RunStatus, finishedAt time.Time, itemsTotal, itemsChanged, itemsFailed int, log datatypes.JSON) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish run %s with non-terminal status %s", runID, status)
	}

	result := s.db.WithContext(ctx).
		Model(&schema.IngestionRun{}).
		Where("id = ? AND status = ?", runID, schema.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":        status,
			"finished_at":   finishedAt,
			"items_total":   itemsTotal,
			"items_changed": itemsChanged,
			"items_failed":  itemsFailed,
			"log":           log,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish ingestion run: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("ingestion run %s not found", runID)
		}
		return fmt.Errorf("run %s is %s: %w", runID, run.Status, domain.ErrRunTerminal)
	}

	return nil
}

// GetRun retrieves one ingestion run by id
func (s *pgStore) GetRun(ctx context.Context, runID string) (*schema.IngestionRun, error) {
	var run schema.IngestionRun
	err := s.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ingestion run: %w", err)
	}

	return &run, nil
}

// GetRunsByChain lists a chain's most recent runs, newest first
func (s *pgStore) GetRunsByChain(ctx context.Context, chain domain.Chain, limit int) ([]*schema.IngestionRun, error) {
	var runs []*schema.IngestionRun
	err := s.db.WithContext(ctx).
		Where("chain = ?", chain).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get runs by chain: %w", err)
	}

	return runs, nil
}

// ListRecentRuns lists the most recent runs across all chains, newest first
func (s *pgStore) ListRecentRuns(ctx context.Context, limit int) ([]*schema.IngestionRun, error) {
	var runs []*schema.IngestionRun
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes terminal runs that finished before the cutoff
func (s *pgStore) PruneRuns(ctx context.Context, finishedBefore time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status <> ? AND finished_at < ?", schema.RunStatusRunning, finishedBefore).
		Delete(&schema.IngestionRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
