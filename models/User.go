package models

import "gorm.io/gorm"

// User is an operator account allowed to manage substitution rules and optimizations.
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Name         string
}

// All lists every model managed by the application, in migration order.
func All() []any {
	return []any{
		&User{},
		&Material{},
		&DailyMaterialPrice{},
		&Formula{},
		&FormulaMaterial{},
		&MaterialGroup{},
		&GroupMember{},
		&Substitution{},
		&OptimizedFormula{},
		&OptimizedFormulaItem{},
	}
}
