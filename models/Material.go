package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage format of price and document dates.
const DateLayout = "2006-01-02"

// Material is a raw material identified by its business code.
type Material struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyMaterialPrice holds the unit price of a material on one day.
// There is at most one row per (price_date, material_code); a re-import overwrites it.
type DailyMaterialPrice struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	PriceDate    string          `gorm:"type:varchar(10);not null;uniqueIndex:idx_price_date_material" json:"price_date"`
	MaterialCode string          `gorm:"not null;uniqueIndex:idx_price_date_material" json:"material_code"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"unit_price"`
	ImportDate   time.Time       `json:"import_date"`
}

// DateKey renders t in the storage format used for price lookups.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}
