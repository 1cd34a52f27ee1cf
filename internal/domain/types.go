package domain

import (
	"strings"
	"time"
)

// Chain identifies one retail chain being ingested (e.g. "northcellar", "vintra")
type Chain string

// PricingMode describes how a chain's prices map onto its stores
type PricingMode string

const (
	// PricingBroadcast means one price applies to every store of the chain
	PricingBroadcast PricingMode = "broadcast"
	// PricingStoreScoped means prices vary per physical store within the chain
	PricingStoreScoped PricingMode = "store_scoped"
)

// ProductRecord is the normalized, chain-agnostic form a Source emits for one
// catalog item before persistence. It is ephemeral: records live only for the
// duration of one batch upsert.
type ProductRecord struct {
	Chain           Chain      `json:"chain"`
	SourceProductID string     `json:"source_product_id"` // vendor-native id, unique per chain
	Name            string     `json:"name"`
	Brand           string     `json:"brand,omitempty"`
	Category        string     `json:"category,omitempty"`
	ABV             *float64   `json:"abv,omitempty"` // percent by volume
	PackCount       *int       `json:"pack_count,omitempty"`
	UnitVolumeML    *int       `json:"unit_volume_ml,omitempty"`
	TotalVolumeML   *int       `json:"total_volume_ml,omitempty"`
	Price           float64    `json:"price"`
	PromoPrice      *float64   `json:"promo_price,omitempty"`
	PromoText       *string    `json:"promo_text,omitempty"`
	PromoExpiry     *time.Time `json:"promo_expiry,omitempty"`
	MemberOnly      bool       `json:"member_only"`
	ImageURL        *string    `json:"image_url,omitempty"`
	ProductURL      *string    `json:"product_url,omitempty"`
	// StoreTag carries the originating store identifier for store-scoped
	// chains. Empty for national-catalog (broadcast) sources.
	StoreTag string `json:"store_tag,omitempty"`
}

// Valid reports whether the record carries the minimum identity and pricing
// data required for persistence. Malformed records are dropped at parse time.
func (r *ProductRecord) Valid() bool {
	if r.Chain == "" || strings.TrimSpace(r.SourceProductID) == "" {
		return false
	}
	if strings.TrimSpace(r.Name) == "" {
		return false
	}
	if r.Price < 0 {
		return false
	}
	if r.PromoPrice != nil && *r.PromoPrice < 0 {
		return false
	}
	return true
}

// Credentials holds the auth material an authenticated Source attaches to its
// catalog requests.
type Credentials struct {
	Token     string            `json:"token"`
	Headers   map[string]string `json:"headers,omitempty"`
	Cookies   map[string]string `json:"cookies,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Empty reports whether no usable auth material was captured.
func (c *Credentials) Empty() bool {
	return c == nil || (c.Token == "" && len(c.Headers) == 0 && len(c.Cookies) == 0)
}

// PageOutcome is the explicit result of persisting one fetched page (or one
// store's batch). Tolerable failures are data here, not panics: the driver
// aggregates outcomes into run totals instead of inspecting error types.
type PageOutcome struct {
	Items   int `json:"items"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	// PagesSkipped counts whole pages dropped on the fetch side after
	// exhausting retries. Each skipped page is also counted in Failed.
	PagesSkipped int    `json:"pages_skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Add folds another outcome into this one.
func (o *PageOutcome) Add(other PageOutcome) {
	o.Items += other.Items
	o.Changed += other.Changed
	o.Failed += other.Failed
	o.PagesSkipped += other.PagesSkipped
}

// ChainSummary is the per-chain entry of the pass report emitted to the
// reporting collaborator after a full scheduler pass.
type ChainSummary struct {
	Chain        Chain         `json:"chain"`
	RunID        string        `json:"run_id"`
	Status       string        `json:"status"`
	ItemsTotal   int           `json:"items_total"`
	ItemsChanged int           `json:"items_changed"`
	ItemsFailed  int           `json:"items_failed"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// PassReport is the full-pass summary envelope.
type PassReport struct {
	ReportID   string         `json:"report_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Chains     []ChainSummary `json:"chains"`
}
