// Package catalog implements the persistence and change-detection engine:
// batches of normalized product records go in, idempotent product/price
// upserts come out, and only prices that actually differ advance
// price_last_changed_at.
package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/store"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

// Upserter persists batches of product records with change detection
type Upserter struct {
	store store.Store
	clock adapter.Clock
}

// NewUpserter creates a new catalog upserter
func NewUpserter(st store.Store, clock adapter.Clock) *Upserter {
	return &Upserter{
		store: st,
		clock: clock,
	}
}

// UpsertBatch persists one page's worth of records for a chain. Each store
// group runs in its own transaction, so one store's failure is counted and
// contained without aborting the others. Only context cancellation is
// returned as an error; everything else is data in the outcome.
func (u *Upserter) UpsertBatch(ctx context.Context, chain domain.Chain, mode domain.PricingMode, records []domain.ProductRecord) (domain.PageOutcome, error) {
	outcome := domain.PageOutcome{}

	valid, dropped := dedupe(chain, records)
	outcome.Failed += dropped
	if len(valid) == 0 {
		return outcome, ctx.Err()
	}

	// Group by originating store. Broadcast sources carry no tag and land in
	// a single group fanned out to the whole chain store set.
	groups, unresolvable := groupByStore(mode, valid)
	outcome.Failed += unresolvable

	for tag, group := range groups {
		changed, err := u.upsertStoreGroup(ctx, chain, mode, tag, group)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			// one store's failure never aborts the rest of the batch
			outcome.Failed += len(group)
			outcome.Reason = err.Error()
			logger.Warn("store batch failed",
				zap.String("chain", string(chain)),
				zap.String("store_tag", tag),
				zap.Int("records", len(group)),
				zap.Error(err))
			continue
		}
		outcome.Items += len(group)
		outcome.Changed += changed
	}

	return outcome, ctx.Err()
}

// SweepStale demotes a store's price rows not re-observed since the run
// started: promo fields are cleared and the row is flagged stale, without
// deleting history.
func (u *Upserter) SweepStale(ctx context.Context, chain domain.Chain, storeTag string, runStart time.Time) (int64, error) {
	var demoted int64
	err := u.store.Transaction(ctx, func(tx store.Store) error {
		st, err := tx.GetOrCreateStore(ctx, chain, storeTag)
		if err != nil {
			return fmt.Errorf("%w: %s", domain.ErrStoreResolution, storeTag)
		}
		demoted, err = tx.DemoteStalePrices(ctx, st.ID, runStart)
		return err
	})
	if err != nil {
		return 0, err
	}

	if demoted > 0 {
		logger.Info("demoted stale prices",
			zap.String("chain", string(chain)),
			zap.String("store_tag", storeTag),
			zap.Int64("demoted", demoted))
	}
	return demoted, nil
}

// upsertStoreGroup runs steps 2-6 of the batch algorithm for one store group
// inside a single transaction.
func (u *Upserter) upsertStoreGroup(ctx context.Context, chain domain.Chain, mode domain.PricingMode, storeTag string, records []domain.ProductRecord) (int, error) {
	now := u.clock.Now()
	changed := 0

	err := u.store.Transaction(ctx, func(tx store.Store) error {
		products := make([]*schema.Product, len(records))
		for i, rec := range records {
			products[i] = productFromRecord(rec, now)
		}
		if err := tx.UpsertProducts(ctx, products); err != nil {
			return err
		}

		// Target stores: broadcast fans out to the full chain store set,
		// store-scoped resolves exactly the tagged store.
		var targets []*schema.Store
		switch mode {
		case domain.PricingStoreScoped:
			st, err := tx.GetOrCreateStore(ctx, chain, storeTag)
			if err != nil {
				return fmt.Errorf("%w: %s", domain.ErrStoreResolution, storeTag)
			}
			targets = []*schema.Store{st}
		default:
			all, err := tx.GetStoresByChain(ctx, chain)
			if err != nil {
				return err
			}
			targets = all
		}
		if len(targets) == 0 {
			return nil
		}

		productIDs := make([]int64, len(products))
		for i, p := range products {
			productIDs[i] = p.ID
		}
		storeIDs := make([]int64, len(targets))
		for i, st := range targets {
			storeIDs[i] = st.ID
		}

		existing, err := tx.GetPrices(ctx, productIDs, storeIDs)
		if err != nil {
			return err
		}
		current := make(map[priceKey]*schema.Price, len(existing))
		for _, p := range existing {
			current[priceKey{p.ProductID, p.StoreID}] = p
		}

		prices := make([]*schema.Price, 0, len(records)*len(targets))
		for i, rec := range records {
			for _, target := range targets {
				row := priceFromRecord(rec, products[i].ID, target.ID, now)

				prior, ok := current[priceKey{row.ProductID, row.StoreID}]
				if !ok || priceChanged(prior, row) {
					// new sighting or a real change advances the change clock
					row.PriceLastChangedAt = now
					changed++
				} else {
					// unchanged re-sighting preserves the change clock but
					// still refreshes last_seen_at
					row.PriceLastChangedAt = prior.PriceLastChangedAt
				}
				prices = append(prices, row)
			}
		}

		return tx.UpsertPrices(ctx, prices)
	})
	if err != nil {
		return 0, err
	}

	return changed, nil
}

type priceKey struct {
	productID int64
	storeID   int64
}

// dedupe validates records and deduplicates by source product id. A later
// duplicate overwrites the earlier payload in place, so the batch keeps one
// record per id carrying the most recent attributes. Returns the surviving
// records and the dropped count.
func dedupe(chain domain.Chain, records []domain.ProductRecord) ([]domain.ProductRecord, int) {
	index := make(map[string]int, len(records))
	valid := make([]domain.ProductRecord, 0, len(records))
	dropped := 0

	for _, rec := range records {
		if rec.Chain == "" {
			rec.Chain = chain
		}
		if !rec.Valid() || rec.Chain != chain {
			dropped++
			continue
		}
		if i, ok := index[rec.SourceProductID]; ok {
			valid[i] = rec
			continue
		}
		index[rec.SourceProductID] = len(valid)
		valid = append(valid, rec)
	}

	return valid, dropped
}

// groupByStore splits records into per-store groups. Broadcast mode lands
// everything in one untagged group; store-scoped records without a tag are
// unresolvable and counted failed.
func groupByStore(mode domain.PricingMode, records []domain.ProductRecord) (map[string][]domain.ProductRecord, int) {
	groups := make(map[string][]domain.ProductRecord)
	unresolvable := 0

	if mode != domain.PricingStoreScoped {
		groups[""] = records
		return groups, 0
	}

	for _, rec := range records {
		if rec.StoreTag == "" {
			unresolvable++
			continue
		}
		groups[rec.StoreTag] = append(groups[rec.StoreTag], rec)
	}

	return groups, unresolvable
}

// productFromRecord maps a normalized record onto the durable product row
func productFromRecord(rec domain.ProductRecord, now time.Time) *schema.Product {
	p := &schema.Product{
		Chain:           rec.Chain,
		SourceProductID: rec.SourceProductID,
		Name:            rec.Name,
		ABV:             rec.ABV,
		PackCount:       rec.PackCount,
		UnitVolumeML:    rec.UnitVolumeML,
		TotalVolumeML:   rec.TotalVolumeML,
		ImageURL:        rec.ImageURL,
		ProductURL:      rec.ProductURL,
		UpdatedAt:       now,
	}
	if rec.Brand != "" {
		p.Brand = &rec.Brand
	}
	if rec.Category != "" {
		p.Category = &rec.Category
	}
	return p
}

// priceFromRecord maps a record's pricing fields onto a price row for one store
func priceFromRecord(rec domain.ProductRecord, productID, storeID int64, now time.Time) *schema.Price {
	return &schema.Price{
		ProductID:   productID,
		StoreID:     storeID,
		Price:       rec.Price,
		PromoPrice:  rec.PromoPrice,
		PromoText:   rec.PromoText,
		PromoExpiry: rec.PromoExpiry,
		MemberOnly:  rec.MemberOnly,
		Stale:       false,
		LastSeenAt:  now,
	}
}

// priceChanged reports whether the effective price differs between the
// stored row and the incoming sighting. last_seen_at and the stale flag are
// observation bookkeeping, not price changes.
func priceChanged(prior, next *schema.Price) bool {
	if prior.Price != next.Price {
		return true
	}
	if !floatPtrEqual(prior.PromoPrice, next.PromoPrice) {
		return true
	}
	if !strPtrEqual(prior.PromoText, next.PromoText) {
		return true
	}
	if !timePtrEqual(prior.PromoExpiry, next.PromoExpiry) {
		return true
	}
	return prior.MemberOnly != next.MemberOnly
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
