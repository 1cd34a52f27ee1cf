// Package mocks holds hand-written fakes for the interfaces the pipeline
// composes, used across package tests.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/store"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

type productKey struct {
	chain    domain.Chain
	sourceID string
}

type priceKey struct {
	productID int64
	storeID   int64
}

type storeKey struct {
	chain domain.Chain
	name  string
}

// FakeStore is an in-memory store.Store. Transactions run against the same
// state without rollback; failure injection happens through the hook fields.
type FakeStore struct {
	mu sync.Mutex

	Products map[productKey]*schema.Product
	Stores   map[storeKey]*schema.Store
	Prices   map[priceKey]*schema.Price
	Runs     map[string]*schema.IngestionRun

	nextProductID int64
	nextStoreID   int64

	// failure injection
	UpsertProductsHook   func(products []*schema.Product) error
	UpsertPricesHook     func(prices []*schema.Price) error
	GetOrCreateStoreHook func(chain domain.Chain, name string) error
	CreateRunErr         error
	FinishRunErr         error
}

// NewFakeStore creates an empty in-memory store
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Products: make(map[productKey]*schema.Product),
		Stores:   make(map[storeKey]*schema.Store),
		Prices:   make(map[priceKey]*schema.Price),
		Runs:     make(map[string]*schema.IngestionRun),
	}
}

// AddStore seeds one store row
func (f *FakeStore) AddStore(chain domain.Chain, name string) *schema.Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addStoreLocked(chain, name)
}

func (f *FakeStore) addStoreLocked(chain domain.Chain, name string) *schema.Store {
	key := storeKey{chain, name}
	if st, ok := f.Stores[key]; ok {
		return st
	}
	f.nextStoreID++
	st := &schema.Store{ID: f.nextStoreID, Chain: chain, Name: name}
	f.Stores[key] = st
	return st
}

// ProductBySource returns the seeded or upserted product row for one source id
func (f *FakeStore) ProductBySource(chain domain.Chain, sourceID string) *schema.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Products[productKey{chain, sourceID}]
}

// PriceRow returns the price row for one product/store pair
func (f *FakeStore) PriceRow(productID, storeID int64) *schema.Price {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Prices[priceKey{productID, storeID}]
}

// PriceCount returns the number of persisted price rows
func (f *FakeStore) PriceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prices)
}

func (f *FakeStore) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(f)
}

func (f *FakeStore) UpsertProducts(ctx context.Context, products []*schema.Product) error {
	if f.UpsertProductsHook != nil {
		if err := f.UpsertProductsHook(products); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range products {
		key := productKey{p.Chain, p.SourceProductID}
		if existing, ok := f.Products[key]; ok {
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
		} else {
			f.nextProductID++
			p.ID = f.nextProductID
		}
		clone := *p
		f.Products[key] = &clone
	}
	return nil
}

func (f *FakeStore) GetStoresByChain(ctx context.Context, chain domain.Chain) ([]*schema.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schema.Store
	for key, st := range f.Stores {
		if key.chain == chain {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeStore) GetOrCreateStore(ctx context.Context, chain domain.Chain, name string) (*schema.Store, error) {
	if f.GetOrCreateStoreHook != nil {
		if err := f.GetOrCreateStoreHook(chain, name); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addStoreLocked(chain, name), nil
}

func (f *FakeStore) GetPrices(ctx context.Context, productIDs []int64, storeIDs []int64) ([]*schema.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wantProduct := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		wantProduct[id] = true
	}
	wantStore := make(map[int64]bool, len(storeIDs))
	for _, id := range storeIDs {
		wantStore[id] = true
	}

	var out []*schema.Price
	for _, p := range f.Prices {
		if wantProduct[p.ProductID] && wantStore[p.StoreID] {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *FakeStore) UpsertPrices(ctx context.Context, prices []*schema.Price) error {
	if f.UpsertPricesHook != nil {
		if err := f.UpsertPricesHook(prices); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range prices {
		clone := *p
		f.Prices[priceKey{p.ProductID, p.StoreID}] = &clone
	}
	return nil
}

func (f *FakeStore) DemoteStalePrices(ctx context.Context, storeID int64, seenBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var demoted int64
	for _, p := range f.Prices {
		if p.StoreID == storeID && !p.Stale && p.LastSeenAt.Before(seenBefore) {
			p.Stale = true
			p.PromoPrice = nil
			p.PromoText = nil
			p.PromoExpiry = nil
			demoted++
		}
	}
	return demoted, nil
}

func (f *FakeStore) CreateRun(ctx context.Context, run *schema.IngestionRun) error {
	if f.CreateRunErr != nil {
		return f.CreateRunErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *run
	f.Runs[run.ID] = &clone
	return nil
}

func (f *FakeStore) FinishRun(ctx context.Context, runID string, status schema.RunStatus, finishedAt time.Time, itemsTotal, itemsChanged, itemsFailed int, log datatypes.JSON) error {
	if f.FinishRunErr != nil {
		return f.FinishRunErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.Runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Status)
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	run.ItemsTotal = itemsTotal
	run.ItemsChanged = itemsChanged
	run.ItemsFailed = itemsFailed
	run.Log = log
	return nil
}

func (f *FakeStore) GetRun(ctx context.Context, runID string) (*schema.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.Runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	clone := *run
	return &clone, nil
}

func (f *FakeStore) GetRunsByChain(ctx context.Context, chain domain.Chain, limit int) ([]*schema.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*schema.IngestionRun
	for _, run := range f.Runs {
		if run.Chain == chain {
			clone := *run
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) ListRecentRuns(ctx context.Context, limit int) ([]*schema.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*schema.IngestionRun
	for _, run := range f.Runs {
		clone := *run
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) PruneRuns(ctx context.Context, finishedBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pruned int64
	for id, run := range f.Runs {
		if run.Status.Terminal() && run.FinishedAt != nil && run.FinishedAt.Before(finishedBefore) {
			delete(f.Runs, id)
			pruned++
		}
	}
	return pruned, nil
}
