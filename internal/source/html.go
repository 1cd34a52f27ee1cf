package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/normalize"
)

// HTMLConfig configures the plain HTTP/HTML source shape
type HTMLConfig struct {
	Chain      domain.Chain
	BaseURL    string
	Categories []string
	PageSize   int
	MaxPages   int
}

// HTMLSource is the plain HTTP/HTML shape: paginated category listings
// fetched over HTTP and parsed with a chain-supplied parse function. These
// chains publish one national catalog, so pricing is broadcast.
type HTMLSource struct {
	cfg     HTMLConfig
	fetcher *Fetcher
	parse   ParseFunc
}

// NewHTMLSource creates an HTML catalog source. A nil parse function falls
// back to the standard storefront parser.
func NewHTMLSource(cfg HTMLConfig, fetcher *Fetcher, parse ParseFunc) *HTMLSource {
	if parse == nil {
		parse = ParseStandardHTML
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{"all"}
	}
	return &HTMLSource{
		cfg:     cfg,
		fetcher: fetcher,
		parse:   parse,
	}
}

func (s *HTMLSource) Chain() domain.Chain {
	return s.cfg.Chain
}

func (s *HTMLSource) Mode() domain.PricingMode {
	return domain.PricingBroadcast
}

func (s *HTMLSource) Authenticated() bool {
	return false
}

// FetchPages walks every configured category, paginating until a short page
// or the safety ceiling. Failed pages are skipped inside Paginate and
// reported in the returned count.
func (s *HTMLSource) FetchPages(ctx context.Context, visit func(ctx context.Context, page Page) error) (int, error) {
	skipped := 0

	for i, category := range s.cfg.Categories {
		if i > 0 {
			if err := s.fetcher.PauseCategory(ctx); err != nil {
				return skipped, err
			}
		}

		catSkipped, err := s.fetcher.Paginate(ctx, string(s.cfg.Chain)+"/"+category, s.cfg.PageSize, s.cfg.MaxPages, func(ctx context.Context, pageNumber int) (int, error) {
			url := fmt.Sprintf("%s/browse/%s?page=%d", s.cfg.BaseURL, category, pageNumber)
			body, err := s.fetcher.Fetch(ctx, url, nil)
			if err != nil {
				return 0, err
			}

			page := Page{
				Chain:    s.cfg.Chain,
				Category: category,
				Number:   pageNumber,
				Body:     body,
			}
			records, itemsSkipped := s.parse(s.cfg.Chain, "", body)
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

// ParsePage parses one page into normalized records, skipping malformed items
func (s *HTMLSource) ParsePage(page Page) ([]domain.ProductRecord, int) {
	return s.parse(page.Chain, page.StoreTag, page.Body)
}

var priceTextRe = regexp.MustCompile(`\d+(?:[.,]\d{1,2})?`)

// parsePriceText pulls the first numeric amount out of a shelf price label
// like "$21.99" or "now 18,50"
func parsePriceText(text string) (float64, bool) {
	m := priceTextRe.FindString(text)
	if m == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseStandardHTML parses the storefront markup most of the HTML chains
// share: product cards carrying a data-product-id, a name node, price nodes
// and optional promo/member badges. Malformed cards are skipped one at a
// time.
func ParseStandardHTML(chain domain.Chain, storeTag string, body []byte) ([]domain.ProductRecord, int) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, 0
	}

	var records []domain.ProductRecord
	skipped := 0

	doc.Find("[data-product-id]").Each(func(_ int, card *goquery.Selection) {
		id, _ := card.Attr("data-product-id")
		name := strings.TrimSpace(card.Find(".product-name").First().Text())
		price, priceOK := parsePriceText(card.Find(".product-price").First().Text())
		if strings.TrimSpace(id) == "" || name == "" || !priceOK {
			skipped++
			return
		}

		rec := domain.ProductRecord{
			Chain:           chain,
			SourceProductID: id,
			Name:            name,
			Price:           price,
			StoreTag:        storeTag,
			Brand:           normalize.InferBrand(name),
			Category:        normalize.InferCategory(name),
			MemberOnly:      card.Find(".member-badge").Length() > 0,
		}

		if vol, ok := normalize.ParseVolume(name); ok {
			rec.PackCount = &vol.PackCount
			rec.UnitVolumeML = &vol.UnitVolumeML
			rec.TotalVolumeML = &vol.TotalVolumeML
		}
		if abv, ok := normalize.ExtractABV(card.Find(".product-abv").Text() + " " + name); ok {
			rec.ABV = &abv
		}

		if promo, ok := parsePriceText(card.Find(".promo-price").First().Text()); ok {
			rec.PromoPrice = &promo
		}
		if promoText := strings.TrimSpace(card.Find(".product-promo").First().Text()); promoText != "" {
			rec.PromoText = &promoText
		}

		if href, ok := card.Find("a.product-link").First().Attr("href"); ok {
			rec.ProductURL = &href
		}
		if src, ok := card.Find("img").First().Attr("src"); ok {
			rec.ImageURL = &src
		}

		records = append(records, rec)
	})

	return records, skipped
}
