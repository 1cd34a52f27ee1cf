package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/normalize"
)

// APIConfig configures the authenticated-API source shape
type APIConfig struct {
	Chain    domain.Chain
	BaseURL  string
	PageSize int
	MaxPages int
}

// APISource is the authenticated, store-scoped shape: a JSON catalog API
// priced per store, gated behind credentials the broker acquires and
// validates before the pass commits to its rate budget.
type APISource struct {
	cfg     APIConfig
	fetcher *Fetcher
	broker  *CredentialBroker

	creds *domain.Credentials
}

// NewAPISource creates an authenticated store-scoped API source
func NewAPISource(cfg APIConfig, fetcher *Fetcher, broker *CredentialBroker) *APISource {
	return &APISource{
		cfg:     cfg,
		fetcher: fetcher,
		broker:  broker,
	}
}

func (s *APISource) Chain() domain.Chain {
	return s.cfg.Chain
}

func (s *APISource) Mode() domain.PricingMode {
	return domain.PricingStoreScoped
}

func (s *APISource) Authenticated() bool {
	return true
}

// apiStore is the store list entry returned by the chain's API
type apiStore struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// apiItem is one product entry in a store's catalog page
type apiItem struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Brand        string   `json:"brand,omitempty"`
	Category     string   `json:"category,omitempty"`
	ABV          *float64 `json:"abv,omitempty"`
	PackCount    *int     `json:"pack_count,omitempty"`
	UnitVolumeML *int     `json:"unit_volume_ml,omitempty"`
	Price        *float64 `json:"price"`
	PromoPrice   *float64 `json:"promo_price,omitempty"`
	PromoText    *string  `json:"promo_text,omitempty"`
	PromoExpiry  *string  `json:"promo_expires_at,omitempty"`
	MemberOnly   bool     `json:"member_only,omitempty"`
	ImageURL     *string  `json:"image_url,omitempty"`
	ProductURL   *string  `json:"url,omitempty"`
}

// apiPage is one page of a store's catalog
type apiPage struct {
	Items []json.RawMessage `json:"items"`
}

// FetchPages acquires credentials, enumerates stores and walks each store's
// paginated catalog. One store's dead pages are logged and skipped, counted
// in the returned total; a dead credential gets exactly one refresh before
// the pass gives up.
func (s *APISource) FetchPages(ctx context.Context, visit func(ctx context.Context, page Page) error) (int, error) {
	creds, err := s.broker.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	s.creds = creds

	stores, err := s.fetchStores(ctx)
	if err != nil {
		return 0, err
	}

	skipped := 0

	for i, st := range stores {
		if i > 0 {
			if err := s.fetcher.PauseStore(ctx); err != nil {
				return skipped, err
			}
		}

		storeSkipped, err := s.fetcher.Paginate(ctx, string(s.cfg.Chain)+"/"+st.Name, s.cfg.PageSize, s.cfg.MaxPages, func(ctx context.Context, pageNumber int) (int, error) {
			url := fmt.Sprintf("%s/api/stores/%s/products?page=%d&size=%d", s.cfg.BaseURL, st.ID, pageNumber, s.cfg.PageSize)
			body, err := s.authedFetch(ctx, url)
			if err != nil {
				return 0, err
			}

			var parsed apiPage
			if err := json.Unmarshal(body, &parsed); err != nil {
				return 0, fmt.Errorf("malformed catalog page: %w", err)
			}

			page := Page{
				Chain:    s.cfg.Chain,
				StoreTag: st.Name,
				Number:   pageNumber,
				Body:     body,
			}
			if err := visit(ctx, page); err != nil {
				return 0, Abort(err)
			}

			return len(parsed.Items), nil
		})
		skipped += storeSkipped
		if err != nil {
			return skipped, err
		}
		if storeSkipped > 0 {
			logger.Warn("store catalog pages skipped",
				zap.String("chain", string(s.cfg.Chain)),
				zap.String("store", st.Name),
				zap.Int("pages", storeSkipped))
		}
	}

	return skipped, nil
}

// authedFetch performs one credentialed fetch, refreshing the credentials at
// most once when the first attempt fails mid-run.
func (s *APISource) authedFetch(ctx context.Context, url string) ([]byte, error) {
	body, err := s.fetcher.Fetch(ctx, url, s.authHeaders())
	if err == nil || ctx.Err() != nil {
		return body, err
	}

	creds, refreshErr := s.broker.Refresh(ctx)
	if refreshErr != nil {
		return nil, err
	}
	s.creds = creds

	return s.fetcher.Fetch(ctx, url, s.authHeaders())
}

func (s *APISource) authHeaders() map[string]string {
	return RequestHeaders(s.creds)
}

// fetchStores enumerates the chain's stores
func (s *APISource) fetchStores(ctx context.Context) ([]apiStore, error) {
	body, err := s.authedFetch(ctx, s.cfg.BaseURL+"/api/stores")
	if err != nil {
		return nil, err
	}

	var stores []apiStore
	if err := json.Unmarshal(body, &stores); err != nil {
		return nil, fmt.Errorf("malformed store list: %w", err)
	}

	return stores, nil
}

// ParsePage parses one JSON catalog page, skipping malformed items one at a
// time, never the whole page.
func (s *APISource) ParsePage(page Page) ([]domain.ProductRecord, int) {
	var parsed apiPage
	if err := json.Unmarshal(page.Body, &parsed); err != nil {
		return nil, 0
	}

	var records []domain.ProductRecord
	skipped := 0

	for _, raw := range parsed.Items {
		var item apiItem
		if err := json.Unmarshal(raw, &item); err != nil {
			skipped++
			continue
		}
		if item.ID == "" || item.Name == "" || item.Price == nil || *item.Price < 0 {
			skipped++
			continue
		}

		rec := domain.ProductRecord{
			Chain:           page.Chain,
			SourceProductID: item.ID,
			Name:            item.Name,
			Brand:           item.Brand,
			Category:        item.Category,
			ABV:             item.ABV,
			PackCount:       item.PackCount,
			UnitVolumeML:    item.UnitVolumeML,
			Price:           *item.Price,
			PromoPrice:      item.PromoPrice,
			PromoText:       item.PromoText,
			MemberOnly:      item.MemberOnly,
			ImageURL:        item.ImageURL,
			ProductURL:      item.ProductURL,
			StoreTag:        page.StoreTag,
		}

		if rec.Brand == "" {
			rec.Brand = normalize.InferBrand(item.Name)
		}
		if rec.Category == "" {
			rec.Category = normalize.InferCategory(item.Name)
		}
		if rec.PackCount != nil && rec.UnitVolumeML != nil {
			total := *rec.PackCount * *rec.UnitVolumeML
			rec.TotalVolumeML = &total
		} else if vol, ok := normalize.ParseVolume(item.Name); ok {
			rec.PackCount = &vol.PackCount
			rec.UnitVolumeML = &vol.UnitVolumeML
			rec.TotalVolumeML = &vol.TotalVolumeML
		}
		if item.PromoExpiry != nil {
			if expiry, err := time.Parse(time.RFC3339, *item.PromoExpiry); err == nil {
				rec.PromoExpiry = &expiry
			}
		}

		records = append(records, rec)
	}

	return records, skipped
}
