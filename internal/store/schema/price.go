package schema

import (
	"time"
)

// Price represents the prices table - the observed price of one product at
// one store. Identity is (product_id, store_id). Rows are never deleted by a
// normal pass; a staleness sweep demotes them when unobserved.
type Price struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ProductID references the priced product
	ProductID int64 `gorm:"column:product_id;not null;uniqueIndex:idx_prices_product_store,priority:1"`
	// StoreID references the store the price applies to
	StoreID int64 `gorm:"column:store_id;not null;uniqueIndex:idx_prices_product_store,priority:2"`
	// Price is the shelf price
	Price float64 `gorm:"column:price;not null;type:numeric(10,2)"`
	// PromoPrice is the promotional price, when one is active
	PromoPrice *float64 `gorm:"column:promo_price;type:numeric(10,2)"`
	// PromoText is the vendor's promotion wording
	PromoText *string `gorm:"column:promo_text;type:text"`
	// PromoExpiry is when the promotion ends, when advertised
	PromoExpiry *time.Time `gorm:"column:promo_expiry;type:timestamptz"`
	// MemberOnly marks prices restricted to loyalty members
	MemberOnly bool `gorm:"column:member_only;not null;default:false"`
	// Stale marks rows demoted by the staleness sweep after going unobserved
	Stale bool `gorm:"column:stale;not null;default:false"`
	// LastSeenAt advances on every sighting, changed or not
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null;type:timestamptz"`
	// PriceLastChangedAt advances only when the effective price, promo fields
	// or member flag actually differ from the stored value
	PriceLastChangedAt time.Time `gorm:"column:price_last_changed_at;not null;type:timestamptz;index"`
	// CreatedAt is the timestamp of the first sighting at this store
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Product Product `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	Store   Store   `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Price model
func (Price) TableName() string {
	return "prices"
}
