package source

import (
	"context"
	"fmt"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/domain"
)

// BrowserConfig configures the browser-automated source shape
type BrowserConfig struct {
	Chain      domain.Chain
	BaseURL    string
	Categories []string
	PageSize   int
	MaxPages   int
}

// BrowserSource is the browser-automated shape for chains whose catalogs
// only materialize after client-side rendering or behind anti-bot
// challenges. Pages come out of a headless browser instead of the HTTP
// client but flow through the same contract, pacing and parser.
type BrowserSource struct {
	cfg     BrowserConfig
	browser adapter.Browser
	fetcher *Fetcher
	parse   ParseFunc
}

// NewBrowserSource creates a browser-automated catalog source. A nil parse
// function falls back to the standard storefront parser.
func NewBrowserSource(cfg BrowserConfig, browser adapter.Browser, fetcher *Fetcher, parse ParseFunc) *BrowserSource {
	if parse == nil {
		parse = ParseStandardHTML
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{"all"}
	}
	return &BrowserSource{
		cfg:     cfg,
		browser: browser,
		fetcher: fetcher,
		parse:   parse,
	}
}

func (s *BrowserSource) Chain() domain.Chain {
	return s.cfg.Chain
}

func (s *BrowserSource) Mode() domain.PricingMode {
	return domain.PricingBroadcast
}

func (s *BrowserSource) Authenticated() bool {
	return false
}

// FetchPages walks the configured categories through the headless browser.
// Rendering failures are skipped inside Paginate and reported in the
// returned count; the browser context is torn down per page, so a cancelled
// pass never leaves a tab behind.
func (s *BrowserSource) FetchPages(ctx context.Context, visit func(ctx context.Context, page Page) error) (int, error) {
	skipped := 0

	for i, category := range s.cfg.Categories {
		if i > 0 {
			if err := s.fetcher.PauseCategory(ctx); err != nil {
				return skipped, err
			}
		}

		catSkipped, err := s.fetcher.Paginate(ctx, string(s.cfg.Chain)+"/"+category, s.cfg.PageSize, s.cfg.MaxPages, func(ctx context.Context, pageNumber int) (int, error) {
			if err := s.fetcher.PacePage(ctx); err != nil {
				return 0, err
			}

			url := fmt.Sprintf("%s/browse/%s?page=%d", s.cfg.BaseURL, category, pageNumber)
			html, err := s.browser.RenderPage(ctx, url)
			if err != nil {
				return 0, err
			}

			page := Page{
				Chain:    s.cfg.Chain,
				Category: category,
				Number:   pageNumber,
				Body:     []byte(html),
			}
			records, itemsSkipped := s.parse(s.cfg.Chain, "", page.Body)
			if err := visit(ctx, page); err != nil {
				return 0, Abort(err)
			}

			return len(records) + itemsSkipped, nil
		})
		skipped += catSkipped
		if err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}

// ParsePage parses one rendered page into normalized records
func (s *BrowserSource) ParsePage(page Page) ([]domain.ProductRecord, int) {
	return s.parse(page.Chain, page.StoreTag, page.Body)
}
