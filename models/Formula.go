package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	FormulaTypeQuotation  = "quotation"
	FormulaTypeProduction = "production"
)

// ValidFormulaType reports whether value is a supported formula type.
func ValidFormulaType(value string) bool {
	switch value {
	case FormulaTypeQuotation, FormulaTypeProduction:
		return true
	default:
		return false
	}
}

// NormalizeFormulaType trims value and falls back to quotation when it is not supported.
func NormalizeFormulaType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if ValidFormulaType(value) {
		return value
	}
	return FormulaTypeQuotation
}

// Formula is a quotation or production recipe. It owns its material lines.
type Formula struct {
	gorm.Model
	QuotationNo         string            `gorm:"index" json:"quotation_no"`
	DocumentDate        string            `gorm:"type:varchar(10)" json:"document_date"`
	ProductCode         string            `gorm:"index;not null" json:"product_code"`
	ProductName         string            `json:"product_name"`
	CustomerProductName string            `json:"customer_product_name"`
	FormulaType         string            `gorm:"index;not null;default:quotation" json:"formula_type"`
	Materials           []FormulaMaterial `gorm:"foreignKey:FormulaID" json:"materials"`
}

// FormulaMaterial is one (material, usage ratio) line of a Formula.
type FormulaMaterial struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	FormulaID     uint            `gorm:"index;not null" json:"formula_id"`
	Position      int             `gorm:"not null" json:"position"`
	MaterialCode  string          `gorm:"index;not null" json:"material_code"`
	MaterialName  string          `json:"material_name"`
	MaterialModel string          `json:"material_model"`
	UsageRatio    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"usage_ratio"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OrderedMaterials preloads formula lines in their stored order.
func OrderedMaterials(db *gorm.DB) *gorm.DB {
	return db.Order("position asc, id asc")
}
