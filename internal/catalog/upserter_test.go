package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottlescout/price-ingest/internal/catalog"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/mocks"
)

const testChain = domain.Chain("northcellar")

func setupUpserter(t *testing.T) (*catalog.Upserter, *mocks.FakeStore, *mocks.FakeClock) {
	t.Helper()
	require.NoError(t, logger.Initialize(logger.Config{Debug: true}))

	st := mocks.NewFakeStore()
	clock := mocks.NewFakeClock(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))
	return catalog.NewUpserter(st, clock), st, clock
}

func record(sourceID string, price float64) domain.ProductRecord {
	return domain.ProductRecord{
		Chain:           testChain,
		SourceProductID: sourceID,
		Name:            "Heineken Lager 24 x 330ml",
		Price:           price,
	}
}

func TestUpsertBatch_BroadcastFansOutToAllStores(t *testing.T) {
	u, st, _ := setupUpserter(t)
	st.AddStore(testChain, "downtown")
	st.AddStore(testChain, "harbour")
	st.AddStore(testChain, "airport")

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00)})

	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Items)
	assert.Equal(t, 3, outcome.Changed)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, 3, st.PriceCount())

	product := st.ProductBySource(testChain, "p1")
	require.NotNil(t, product)
	assert.Equal(t, "Heineken Lager 24 x 330ml", product.Name)
}

func TestUpsertBatch_ReplayIsIdempotent(t *testing.T) {
	u, st, clock := setupUpserter(t)
	store := st.AddStore(testChain, "downtown")

	_, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00)})
	require.NoError(t, err)

	product := st.ProductBySource(testChain, "p1")
	firstSeen := st.PriceRow(product.ID, store.ID).PriceLastChangedAt

	clock.Advance(time.Hour)
	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00)})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Items)
	assert.Equal(t, 0, outcome.Changed, "unchanged replay must not count as changed")
	assert.Equal(t, 1, st.PriceCount(), "replay must not create extra rows")

	row := st.PriceRow(product.ID, store.ID)
	assert.True(t, row.PriceLastChangedAt.Equal(firstSeen), "change clock must be preserved")
	assert.True(t, row.LastSeenAt.After(firstSeen), "last_seen_at must advance on every sighting")
}

func TestUpsertBatch_PriceChangeAdvancesChangeClock(t *testing.T) {
	u, st, clock := setupUpserter(t)
	store := st.AddStore(testChain, "downtown")

	_, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00)})
	require.NoError(t, err)

	product := st.ProductBySource(testChain, "p1")
	firstSeen := st.PriceRow(product.ID, store.ID).PriceLastChangedAt

	clock.Advance(time.Hour)
	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 9.50)})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Changed)
	row := st.PriceRow(product.ID, store.ID)
	assert.Equal(t, 9.50, row.Price)
	assert.True(t, row.PriceLastChangedAt.After(firstSeen))
}

func TestUpsertBatch_PromoChangeIsAChange(t *testing.T) {
	u, st, clock := setupUpserter(t)
	store := st.AddStore(testChain, "downtown")

	_, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00)})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	promo := 8.00
	rec := record("p1", 10.00)
	rec.PromoPrice = &promo

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Changed, "a new promo price is a price change")
	product := st.ProductBySource(testChain, "p1")
	row := st.PriceRow(product.ID, store.ID)
	require.NotNil(t, row.PromoPrice)
	assert.Equal(t, 8.00, *row.PromoPrice)
}

func TestUpsertBatch_StoreScopedTargetsOnlyTaggedStore(t *testing.T) {
	u, st, _ := setupUpserter(t)
	st.AddStore(testChain, "downtown")

	rec := record("p1", 11.00)
	rec.StoreTag = "harbour"

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingStoreScoped,
		[]domain.ProductRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Items)
	assert.Equal(t, 1, outcome.Changed)
	assert.Equal(t, 1, st.PriceCount(), "store-scoped record must price exactly one store")

	// first sighting auto-creates the store
	stores, err := st.GetStoresByChain(context.Background(), testChain)
	require.NoError(t, err)
	assert.Len(t, stores, 2)
}

func TestUpsertBatch_StoreScopedUntaggedIsUnresolvable(t *testing.T) {
	u, st, _ := setupUpserter(t)

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingStoreScoped,
		[]domain.ProductRecord{record("p1", 11.00)})
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Items)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 0, st.PriceCount())
}

func TestUpsertBatch_DuplicateKeepsLatestAttributes(t *testing.T) {
	u, st, _ := setupUpserter(t)
	store := st.AddStore(testChain, "downtown")

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00), record("p1", 12.00)})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Items, "duplicates collapse to one record")
	product := st.ProductBySource(testChain, "p1")
	row := st.PriceRow(product.ID, store.ID)
	assert.Equal(t, 12.00, row.Price, "the later duplicate's attributes win")
}

func TestUpsertBatch_InvalidRecordsAreDropped(t *testing.T) {
	u, st, _ := setupUpserter(t)
	st.AddStore(testChain, "downtown")

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00), record("p2", -1.00), {Chain: testChain, Name: "no id", Price: 5}})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Items)
	assert.Equal(t, 2, outcome.Failed)
}

func TestUpsertBatch_OneStoreFailureIsContained(t *testing.T) {
	u, st, _ := setupUpserter(t)
	st.GetOrCreateStoreHook = func(chain domain.Chain, name string) error {
		if name == "broken" {
			return errors.New("store resolution boom")
		}
		return nil
	}

	good := record("p1", 10.00)
	good.StoreTag = "downtown"
	bad := record("p2", 11.00)
	bad.StoreTag = "broken"

	outcome, err := u.UpsertBatch(context.Background(), testChain, domain.PricingStoreScoped,
		[]domain.ProductRecord{good, bad})
	require.NoError(t, err, "a store group failure must not abort the batch")

	assert.Equal(t, 1, outcome.Items)
	assert.Equal(t, 1, outcome.Failed)
	assert.NotEmpty(t, outcome.Reason)
	assert.Equal(t, 1, st.PriceCount(), "the healthy store group still lands")
}

func TestUpsertBatch_CanceledContextSurfaces(t *testing.T) {
	u, st, _ := setupUpserter(t)
	st.AddStore(testChain, "downtown")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.UpsertBatch(ctx, testChain, domain.PricingBroadcast,
		[]domain.ProductRecord{record("p1", 10.00)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepStale_DemotesUnseenRows(t *testing.T) {
	u, st, clock := setupUpserter(t)
	store := st.AddStore(testChain, "downtown")

	promo := 8.00
	stale := record("p1", 10.00)
	stale.StoreTag = "downtown"
	stale.PromoPrice = &promo
	fresh := record("p2", 12.00)
	fresh.StoreTag = "downtown"

	_, err := u.UpsertBatch(context.Background(), testChain, domain.PricingStoreScoped,
		[]domain.ProductRecord{stale})
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	runStart := clock.Now()

	_, err = u.UpsertBatch(context.Background(), testChain, domain.PricingStoreScoped,
		[]domain.ProductRecord{fresh})
	require.NoError(t, err)

	demoted, err := u.SweepStale(context.Background(), testChain, "downtown", runStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), demoted)

	staleRow := st.PriceRow(st.ProductBySource(testChain, "p1").ID, store.ID)
	assert.True(t, staleRow.Stale)
	assert.Nil(t, staleRow.PromoPrice, "demotion clears promo fields")
	assert.Equal(t, 10.00, staleRow.Price, "demotion keeps the last known price")

	freshRow := st.PriceRow(st.ProductBySource(testChain, "p2").ID, store.ID)
	assert.False(t, freshRow.Stale)
}
