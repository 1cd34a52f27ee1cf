package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/logger"
)

// Browser defines an interface for browser-automated page access. It backs
// the browser-shaped Source and the slow path of credential capture, where a
// chain's catalog or login flow only materializes after client-side scripts
// run.
type Browser interface {
	// RenderPage navigates to url and returns the rendered document HTML
	RenderPage(ctx context.Context, url string) (string, error)

	// CaptureCookies navigates to url, lets the page settle and returns the
	// cookies visible to the page, keyed by name
	CaptureCookies(ctx context.Context, url string, settle time.Duration) (map[string]string, error)
}

// ChromeBrowser implements Browser using a headless Chrome driven over the
// DevTools protocol. Every call runs in a fresh browser context so a
// cancelled pass never leaks tabs; teardown errors after cancellation are
// swallowed.
type ChromeBrowser struct {
	userAgent string
	timeout   time.Duration
}

// NewChromeBrowser creates a headless Chrome browser adapter
func NewChromeBrowser(userAgent string, timeout time.Duration) Browser {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChromeBrowser{
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// newBrowserContext builds an allocator plus browser context rooted at ctx.
// Cancelling ctx tears the whole browser down, even mid-navigation.
func (b *ChromeBrowser) newBrowserContext(ctx context.Context) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(
		ctx,
		append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(b.userAgent),
		)...,
	)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		browserCancel()
		allocCancel()
	}
	return browserCtx, cancel
}

// RenderPage navigates to url and returns the rendered document HTML
func (b *ChromeBrowser) RenderPage(ctx context.Context, url string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	browserCtx, teardown := b.newBrowserContext(runCtx)
	defer teardown()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// teardown on an already-cancelled pass: report the cancellation,
			// not a browser error
			return "", ctx.Err()
		}
		return "", err
	}

	return html, nil
}

// CaptureCookies navigates to url, waits for the page to settle and returns
// all cookies visible to the page keyed by name
func (b *ChromeBrowser) CaptureCookies(ctx context.Context, url string, settle time.Duration) (map[string]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	browserCtx, teardown := b.newBrowserContext(runCtx)
	defer teardown()

	cookies := make(map[string]string)
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			got, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			for _, c := range got {
				cookies[c.Name] = c.Value
			}
			return nil
		}),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, err
	}

	logger.Debug("captured browser cookies", zap.String("url", url), zap.Int("count", len(cookies)))
	return cookies, nil
}
