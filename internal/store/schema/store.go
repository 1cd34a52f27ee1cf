package schema

import (
	"time"

	"github.com/bottlescout/price-ingest/internal/domain"
)

// Store represents the stores table - one physical store of a chain.
// Identity is (chain, name). Stores sighted for the first time by a
// store-scoped source are auto-created with placeholder coordinates;
// geocoding fills them in out of band.
type Store struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain identifies the owning retail chain
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:idx_stores_chain_name,priority:1"`
	// Name is the store's display name or vendor identifier
	Name string `gorm:"column:name;not null;type:text;uniqueIndex:idx_stores_chain_name,priority:2"`
	// URL is the vendor's store page, when known
	URL *string `gorm:"column:url;type:text"`
	// Latitude is 0 until geocoded
	Latitude float64 `gorm:"column:latitude;not null;default:0"`
	// Longitude is 0 until geocoded
	Longitude float64 `gorm:"column:longitude;not null;default:0"`
	// CreatedAt is the timestamp the store was first sighted
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Store model
func (Store) TableName() string {
	return "stores"
}
