package schema

import (
	"time"

	"github.com/bottlescout/price-ingest/internal/domain"
)

// Product represents the products table - one durable row per catalog item
// sighted on a chain. Identity is (chain, source_product_id); descriptive
// attributes are overwritten last-write-wins on every sighting.
type Product struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain identifies the retail chain the product was sighted on
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:idx_products_chain_source,priority:1"`
	// SourceProductID is the vendor-native product id, unique within a chain
	SourceProductID string `gorm:"column:source_product_id;not null;type:text;uniqueIndex:idx_products_chain_source,priority:2"`
	// Name is the display name as last observed
	Name string `gorm:"column:name;not null;type:text"`
	// Brand is the inferred or vendor-supplied brand
	Brand *string `gorm:"column:brand;type:text"`
	// Category is the inferred or vendor-supplied category
	Category *string `gorm:"column:category;type:text"`
	// ABV is the alcohol percentage by volume
	ABV *float64 `gorm:"column:abv;type:numeric(5,2)"`
	// PackCount is the number of units per pack
	PackCount *int `gorm:"column:pack_count"`
	// UnitVolumeML is the volume of a single unit in millilitres
	UnitVolumeML *int `gorm:"column:unit_volume_ml"`
	// TotalVolumeML is the total pack volume in millilitres
	TotalVolumeML *int `gorm:"column:total_volume_ml"`
	// ImageURL points at the vendor's product image
	ImageURL *string `gorm:"column:image_url;type:text"`
	// ProductURL points at the vendor's product page
	ProductURL *string `gorm:"column:product_url;type:text"`
	// CreatedAt is the timestamp of the first sighting
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the most recent sighting
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Prices []Price `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Product model
func (Product) TableName() string {
	return "products"
}
