package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaterialGroup is a named equivalence class of interchangeable materials.
type MaterialGroup struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	Name        string        `gorm:"uniqueIndex;not null" json:"name"`
	Description string        `gorm:"type:text" json:"description"`
	Members     []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// GroupMember places a material in a group. ConversionFactor is the amount of
// this member needed to replace one unit of the group's reference usage.
// Lower Priority values are preferred when costs tie.
type GroupMember struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	GroupID          uint            `gorm:"not null;uniqueIndex:idx_group_member" json:"group_id"`
	MaterialCode     string          `gorm:"not null;uniqueIndex:idx_group_member" json:"material_code"`
	MaterialName     string          `gorm:"-" json:"material_name,omitempty"`
	ConversionFactor decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"conversion_factor"`
	Priority         int             `gorm:"not null;default:0" json:"priority"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Substitution is a directed rule allowing TargetCode to replace up to
// MaxRatio of SourceCode's usage at ConversionFactor units of target per unit of source.
type Substitution struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	SourceCode       string          `gorm:"not null;uniqueIndex:idx_substitution_pair" json:"source_code"`
	TargetCode       string          `gorm:"not null;uniqueIndex:idx_substitution_pair" json:"target_code"`
	ConversionFactor decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"conversion_factor"`
	MaxRatio         decimal.Decimal `gorm:"type:decimal(10,8);not null" json:"max_ratio"`
	Notes            string          `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time       `json:"created_at"`
}
