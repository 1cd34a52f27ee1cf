package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottlescout/price-ingest/internal/config"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/mocks"
	"github.com/bottlescout/price-ingest/internal/source"
)

func fastDelays() config.RateLimitConfig {
	return config.RateLimitConfig{
		PageDelay:     time.Nanosecond,
		CategoryDelay: time.Nanosecond,
		StoreDelay:    time.Nanosecond,
	}
}

func setupFetcher(t *testing.T, http *mocks.FakeHTTPClient) *source.Fetcher {
	t.Helper()
	require.NoError(t, logger.Initialize(logger.Config{Debug: true}))

	clock := mocks.NewFakeClock(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))
	return source.NewFetcher(http, clock, fastDelays(), map[string]string{"User-Agent": "price-ingest/test"})
}

func TestFetch_MergesStaticAndExtraHeaders(t *testing.T) {
	var seen map[string]string
	http := &mocks.FakeHTTPClient{
		GetFunc: func(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
			seen = headers
			return []byte("ok"), nil
		},
	}
	f := setupFetcher(t, http)

	body, err := f.Fetch(context.Background(), "https://northcellar.example/browse", map[string]string{"Authorization": "Bearer abc"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, "price-ingest/test", seen["User-Agent"])
	assert.Equal(t, "Bearer abc", seen["Authorization"])
}

func TestFetch_ExhaustedRetriesSurfaceAsSkippable(t *testing.T) {
	http := &mocks.FakeHTTPClient{
		GetFunc: func(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
			return nil, errors.New("503 after retries")
		},
	}
	f := setupFetcher(t, http)

	_, err := f.Fetch(context.Background(), "https://northcellar.example/browse", nil)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
}

func TestFetch_CancellationIsNotARetryFailure(t *testing.T) {
	http := &mocks.FakeHTTPClient{
		GetFunc: func(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
			return nil, ctx.Err()
		},
	}
	f := setupFetcher(t, http)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "https://northcellar.example/browse", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrRetriesExhausted)
}

func TestPaginate_StopsOnShortPage(t *testing.T) {
	f := setupFetcher(t, &mocks.FakeHTTPClient{})

	var pages []int
	skipped, err := f.Paginate(context.Background(), "northcellar/all", 50, 500, func(ctx context.Context, pageNumber int) (int, error) {
		pages = append(pages, pageNumber)
		if pageNumber < 3 {
			return 50, nil
		}
		return 12, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, []int{1, 2, 3}, pages, "a short page ends pagination")
}

func TestPaginate_FailedPageIsSkippedNotFatal(t *testing.T) {
	f := setupFetcher(t, &mocks.FakeHTTPClient{})

	var pages []int
	skipped, err := f.Paginate(context.Background(), "northcellar/all", 50, 500, func(ctx context.Context, pageNumber int) (int, error) {
		pages = append(pages, pageNumber)
		switch pageNumber {
		case 2:
			return 0, errors.New("retry budget exhausted")
		case 4:
			return 0, nil
		default:
			return 50, nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []int{1, 2, 3, 4}, pages, "pagination continues past a failed page")
}

func TestPaginate_SafetyCeilingBoundsTheWalk(t *testing.T) {
	f := setupFetcher(t, &mocks.FakeHTTPClient{})

	calls := 0
	_, err := f.Paginate(context.Background(), "northcellar/all", 50, 7, func(ctx context.Context, pageNumber int) (int, error) {
		calls++
		return 50, nil // never a short page
	})

	require.NoError(t, err)
	assert.Equal(t, 7, calls)
}

func TestPaginate_AbortErrorStopsTheWalk(t *testing.T) {
	f := setupFetcher(t, &mocks.FakeHTTPClient{})

	visitErr := errors.New("batch rejected")
	var pages []int
	skipped, err := f.Paginate(context.Background(), "northcellar/all", 50, 500, func(ctx context.Context, pageNumber int) (int, error) {
		pages = append(pages, pageNumber)
		if pageNumber == 2 {
			return 0, source.Abort(visitErr)
		}
		return 50, nil
	})

	assert.ErrorIs(t, err, visitErr, "an aborted visit surfaces its original error")
	assert.Equal(t, 0, skipped, "an aborted page is not a skipped page")
	assert.Equal(t, []int{1, 2}, pages)
}

func TestPaginate_CancellationAborts(t *testing.T) {
	f := setupFetcher(t, &mocks.FakeHTTPClient{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Paginate(ctx, "northcellar/all", 50, 500, func(ctx context.Context, pageNumber int) (int, error) {
		cancel()
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
}
