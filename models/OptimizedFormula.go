package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OptimizationStatusSaved   = "SAVED"
	OptimizationStatusApplied = "APPLIED"
)

const (
	LineActionKeep  = "keep"
	LineActionBlend = "blend"
)

const (
	SourceDirectRule  = "direct-rule"
	SourceGroupMember = "group-member"
)

// OptimizedFormula is a persisted optimization result. SourceFormulaID is a
// plain reference: deleting the source formula keeps the record.
type OptimizedFormula struct {
	ID               uint                   `gorm:"primaryKey" json:"id"`
	SourceFormulaID  uint                   `gorm:"index;not null" json:"source_formula_id"`
	TargetDate       string                 `gorm:"type:varchar(10);not null" json:"target_date"`
	TotalBefore      decimal.Decimal        `gorm:"type:decimal(20,8);not null" json:"total_before"`
	TotalAfter       decimal.Decimal        `gorm:"type:decimal(20,8);not null" json:"total_after"`
	Savings          decimal.Decimal        `gorm:"type:decimal(20,8);not null" json:"savings"`
	AllPriced        bool                   `gorm:"not null" json:"all_priced"`
	Status           string                 `gorm:"type:varchar(16);index;not null" json:"status"`
	AppliedFormulaID *uint                  `json:"applied_formula_id,omitempty"`
	AppliedAt        *time.Time             `json:"applied_at,omitempty"`
	CreatedAt        time.Time              `gorm:"index" json:"created_at"`
	Items            []OptimizedFormulaItem `gorm:"foreignKey:OptimizedFormulaID" json:"items"`
}

// OptimizedFormulaItem snapshots the decision taken for one source line.
type OptimizedFormulaItem struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	OptimizedFormulaID  uint            `gorm:"index;not null" json:"optimized_formula_id"`
	Position            int             `gorm:"not null" json:"position"`
	MaterialCode        string          `gorm:"not null" json:"material_code"`
	MaterialName        string          `json:"material_name"`
	MaterialModel       string          `json:"material_model"`
	UsageRatio          decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"usage_ratio"`
	Priced              bool            `gorm:"not null" json:"priced"`
	OriginalUnitPrice   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"original_unit_price"`
	Action              string          `gorm:"type:varchar(8);not null" json:"action"`
	SubstituteCode      string          `json:"substitute_code,omitempty"`
	SubstitutionSource  string          `gorm:"type:varchar(16)" json:"substitution_source,omitempty"`
	SubstitutionRuleID  *uint           `json:"substitution_rule_id,omitempty"`
	GroupID             *uint           `gorm:"index" json:"group_id,omitempty"`
	ConversionFactor    decimal.Decimal `gorm:"type:decimal(20,8)" json:"conversion_factor"`
	Fraction            decimal.Decimal `gorm:"type:decimal(20,8)" json:"fraction"`
	SubstituteUnitPrice decimal.Decimal `gorm:"type:decimal(20,8)" json:"substitute_unit_price"`
	EffectiveUnitCost   decimal.Decimal `gorm:"type:decimal(20,8)" json:"effective_unit_cost"`
	SubstitutePriority  int             `json:"substitute_priority"`
	BlendedUnitCost     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"blended_unit_cost"`
}
