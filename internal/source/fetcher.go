package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/config"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
)

// Fetcher is the shared rate-limited fetch helper sources compose. Page
// pacing runs through a token-bucket limiter; category and store boundaries
// get distinct, larger fixed delays. Retry-with-backoff lives below, in the
// HTTP adapter, so one Fetch call is one bounded retry loop.
type Fetcher struct {
	http    adapter.HTTPClient
	clock   adapter.Clock
	pages   *rate.Limiter
	delays  config.RateLimitConfig
	headers map[string]string
}

// NewFetcher creates a fetch helper with the given pacing configuration.
// Static headers (user agent, API keys) are attached to every request.
func NewFetcher(http adapter.HTTPClient, clock adapter.Clock, delays config.RateLimitConfig, headers map[string]string) *Fetcher {
	pageEvery := delays.PageDelay
	if pageEvery <= 0 {
		pageEvery = time.Second
	}
	return &Fetcher{
		http:    http,
		clock:   clock,
		pages:   rate.NewLimiter(rate.Every(pageEvery), 1),
		delays:  delays,
		headers: headers,
	}
}

// Fetch performs one paced, retried GET. Exhausting the retry budget
// surfaces as domain.ErrRetriesExhausted so callers can skip the page
// without aborting the chain.
func (f *Fetcher) Fetch(ctx context.Context, url string, extraHeaders map[string]string) ([]byte, error) {
	if err := f.PacePage(ctx); err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(f.headers)+len(extraHeaders))
	for k, v := range f.headers {
		headers[k] = v
	}
	for k, v := range extraHeaders {
		headers[k] = v
	}

	body, err := f.http.GetBytes(ctx, url, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrRetriesExhausted, url, err)
	}

	return body, nil
}

// PacePage blocks until the page-level token bucket allows the next fetch.
// The browser-automated shape uses this directly, since its page loads
// bypass the HTTP client.
func (f *Fetcher) PacePage(ctx context.Context) error {
	return f.pages.Wait(ctx)
}

// PauseCategory sleeps the inter-category delay, returning early on
// cancellation
func (f *Fetcher) PauseCategory(ctx context.Context) error {
	return f.pause(ctx, f.delays.CategoryDelay)
}

// PauseStore sleeps the inter-store delay, returning early on cancellation
func (f *Fetcher) PauseStore(ctx context.Context) error {
	return f.pause(ctx, f.delays.StoreDelay)
}

func (f *Fetcher) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.clock.After(d):
		return nil
	}
}

// PageFetch fetches one numbered page and reports how many items it carried.
// Used by Paginate to decide termination.
type PageFetch func(ctx context.Context, pageNumber int) (items int, err error)

// abortError carries an error that must stop the page walk instead of being
// treated as one more skippable page.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps a visit error so Paginate stops the walk and returns the
// original error. Plain fetch errors stay skippable.
func Abort(err error) error {
	return &abortError{err: err}
}

// Paginate walks numbered pages until a fetch returns fewer than pageSize
// items or the safety ceiling is hit. The ceiling guards against sites that
// never signal a last page. A failed page is logged and skipped and pagination
// continues, unless the error is wrapped with Abort, which stops the walk.
// Returns the count of skipped pages.
func (f *Fetcher) Paginate(ctx context.Context, scope string, pageSize, maxPages int, fetch PageFetch) (int, error) {
	skipped := 0

	for pageNumber := 1; pageNumber <= maxPages; pageNumber++ {
		items, err := fetch(ctx, pageNumber)
		if err != nil {
			if ctx.Err() != nil {
				return skipped, ctx.Err()
			}
			var abort *abortError
			if errors.As(err, &abort) {
				return skipped, abort.err
			}
			skipped++
			logger.Warn("page skipped after retry budget",
				zap.String("scope", scope),
				zap.Int("page", pageNumber),
				zap.Error(err))
			continue
		}

		if items < pageSize {
			// short page means the catalog ran out
			return skipped, nil
		}

		if pageNumber == maxPages {
			logger.Warn("pagination ceiling reached",
				zap.String("scope", scope),
				zap.Int("max_pages", maxPages))
		}
	}

	return skipped, nil
}
