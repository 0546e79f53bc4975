// Package pricing resolves material unit prices for a given day.
//
// Lookups are exact-date only. A material with no row for the day is
// unpriced for that snapshot; there is no fallback to an earlier date.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"formulacost/internal/apperr"
	"formulacost/models"
)

// Reader reads and writes DailyMaterialPrice rows.
type Reader struct {
	db *gorm.DB
}

// NewReader builds a Reader on top of db.
func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

// PriceOn returns the unit price of code on date. ok is false when no row
// exists for exactly that day.
func (r *Reader) PriceOn(ctx context.Context, code string, date time.Time) (price decimal.Decimal, ok bool, err error) {
	var rows []models.DailyMaterialPrice
	err = r.db.WithContext(ctx).
		Where("price_date = ? AND material_code = ?", models.DateKey(date), strings.TrimSpace(code)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("load price of %s on %s: %w", code, models.DateKey(date), err)
	}
	if len(rows) == 0 {
		return decimal.Zero, false, nil
	}
	return rows[0].UnitPrice, true, nil
}

// PricesOn resolves many codes at once. Unpriced codes are absent from the map.
func (r *Reader) PricesOn(ctx context.Context, codes []string, date time.Time) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(codes))
	if len(codes) == 0 {
		return prices, nil
	}

	var rows []models.DailyMaterialPrice
	if err := r.db.WithContext(ctx).
		Where("price_date = ? AND material_code IN ?", models.DateKey(date), codes).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load prices on %s: %w", models.DateKey(date), err)
	}
	for _, row := range rows {
		prices[row.MaterialCode] = row.UnitPrice
	}
	return prices, nil
}

// Upsert writes price rows, overwriting any existing (date, code) entry. A
// key repeated within rows keeps its last occurrence. It returns the number
// of distinct rows written.
func (r *Reader) Upsert(ctx context.Context, rows []models.DailyMaterialPrice) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	distinct := make([]models.DailyMaterialPrice, 0, len(rows))
	at := make(map[[2]string]int, len(rows))
	for i, row := range rows {
		row.MaterialCode = strings.TrimSpace(row.MaterialCode)
		row.PriceDate = strings.TrimSpace(row.PriceDate)
		if row.MaterialCode == "" {
			return 0, apperr.Validation("price row %d: material_code is required", i+1)
		}
		if _, err := time.Parse(models.DateLayout, row.PriceDate); err != nil {
			return 0, apperr.Validation("price row %d: price_date %q must be YYYY-MM-DD", i+1, row.PriceDate)
		}
		if row.UnitPrice.IsNegative() {
			return 0, apperr.Validation("price row %d: unit_price must not be negative", i+1)
		}
		if row.ImportDate.IsZero() {
			row.ImportDate = now
		}

		key := [2]string{row.PriceDate, row.MaterialCode}
		if idx, ok := at[key]; ok {
			distinct[idx] = row
			continue
		}
		at[key] = len(distinct)
		distinct = append(distinct, row)
	}

	// postgres refuses ON CONFLICT DO UPDATE touching one row twice per statement
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "price_date"}, {Name: "material_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"unit_price", "import_date"}),
	}).Create(&distinct).Error
	if err != nil {
		return 0, fmt.Errorf("upsert prices: %w", err)
	}
	return len(distinct), nil
}

// Delete removes the price of code on a YYYY-MM-DD date.
func (r *Reader) Delete(ctx context.Context, date, code string) error {
	date = strings.TrimSpace(date)
	code = strings.TrimSpace(code)
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return apperr.Validation("price_date %q must be YYYY-MM-DD", date)
	}
	if code == "" {
		return apperr.Validation("material_code is required")
	}

	res := r.db.WithContext(ctx).
		Where("price_date = ? AND material_code = ?", date, code).
		Delete(&models.DailyMaterialPrice{})
	if res.Error != nil {
		return fmt.Errorf("delete price of %s on %s: %w", code, date, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("price of %s on %s", code, date)
	}
	return nil
}
