// Package optimization persists optimizer results and promotes them into
// production formulas. A record moves SAVED -> APPLIED exactly once.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"formulacost/internal/apperr"
	"formulacost/internal/formulas"
	applog "formulacost/internal/log"
	"formulacost/internal/optimizer"
	"formulacost/models"
)

// Service owns the OptimizedFormula lifecycle.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService builds a Service on top of db.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Save persists result as a SAVED record with one item per line.
func (s *Service) Save(ctx context.Context, result *optimizer.Result) (uint, error) {
	if result == nil || len(result.Lines) == 0 {
		return 0, apperr.Validation("an optimization result needs at least one line")
	}

	record := Record(result)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := record.Items
		record.Items = nil
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("create optimized formula: %w", err)
		}
		for i := range items {
			items[i].OptimizedFormulaID = record.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("create optimized formula items: %w", err)
		}
		record.Items = items
		return nil
	}); err != nil {
		return 0, err
	}

	applog.Info(ctx, "optimization saved",
		"optimization_id", record.ID,
		"formula_id", record.SourceFormulaID,
		"date", record.TargetDate,
		"savings", record.Savings.String(),
	)
	return record.ID, nil
}

// Apply promotes a SAVED record into a new production formula. A second call
// for the same id fails with AlreadyApplied and creates nothing.
func (s *Service) Apply(ctx context.Context, id uint) (*models.Formula, error) {
	var created models.Formula
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := loadRecord(tx, id)
		if err != nil {
			return err
		}
		if record.Status == models.OptimizationStatusApplied {
			return apperr.AlreadyApplied(id)
		}

		appliedAt := s.now().UTC()
		if err := markApplied(tx, id, appliedAt); err != nil {
			return err
		}

		var source models.Formula
		if err := tx.Unscoped().First(&source, record.SourceFormulaID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("source formula %d of optimization %d", record.SourceFormulaID, id)
			}
			return fmt.Errorf("load source formula %d: %w", record.SourceFormulaID, err)
		}

		lines, err := materialize(tx, record.Items)
		if err != nil {
			return err
		}

		created = models.Formula{
			QuotationNo:         source.QuotationNo,
			DocumentDate:        record.TargetDate,
			ProductCode:         source.ProductCode,
			ProductName:         source.ProductName,
			CustomerProductName: source.CustomerProductName,
			FormulaType:         models.FormulaTypeProduction,
		}
		if err := formulas.InsertFormula(tx, &created, lines); err != nil {
			return err
		}

		if err := tx.Model(&models.OptimizedFormula{}).
			Where("id = ?", id).
			Update("applied_formula_id", created.ID).Error; err != nil {
			return fmt.Errorf("link optimization %d to formula %d: %w", id, created.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Info(ctx, "optimization applied", "optimization_id", id, "formula_id", created.ID, "lines", len(created.Materials))
	return &created, nil
}

// markApplied performs the single conditional SAVED -> APPLIED transition.
// Zero affected rows means another caller won.
func markApplied(tx *gorm.DB, id uint, at time.Time) error {
	res := tx.Model(&models.OptimizedFormula{}).
		Where("id = ? AND status = ?", id, models.OptimizationStatusSaved).
		Updates(map[string]any{
			"status":     models.OptimizationStatusApplied,
			"applied_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("apply optimization %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.AlreadyApplied(id)
	}
	return nil
}

// materialize turns item decisions into formula lines. A blend becomes the
// original at u*(1-f), dropped when f is 1, followed by the substitute at u*f*cf.
func materialize(tx *gorm.DB, items []models.OptimizedFormulaItem) ([]models.FormulaMaterial, error) {
	var substitutes []string
	for _, item := range items {
		if item.Action == models.LineActionBlend {
			substitutes = append(substitutes, item.SubstituteCode)
		}
	}
	catalog, err := formulas.MaterialsByCode(tx, substitutes)
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	lines := make([]models.FormulaMaterial, 0, len(items)*2)
	add := func(code, name, model string, usage decimal.Decimal) {
		lines = append(lines, models.FormulaMaterial{
			Position:      len(lines) + 1,
			MaterialCode:  code,
			MaterialName:  name,
			MaterialModel: model,
			UsageRatio:    usage.Round(optimizer.Scale),
		})
	}

	for _, item := range items {
		if item.Action != models.LineActionBlend {
			add(item.MaterialCode, item.MaterialName, item.MaterialModel, item.UsageRatio)
			continue
		}
		if remaining := one.Sub(item.Fraction); remaining.IsPositive() {
			add(item.MaterialCode, item.MaterialName, item.MaterialModel, item.UsageRatio.Mul(remaining))
		}
		sub := catalog[item.SubstituteCode]
		add(item.SubstituteCode, sub.Name, sub.Model, item.UsageRatio.Mul(item.Fraction).Mul(item.ConversionFactor))
	}
	return lines, nil
}

// History returns every record, newest first, with items.
func (s *Service) History(ctx context.Context) ([]models.OptimizedFormula, error) {
	var records []models.OptimizedFormula
	if err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Order("created_at desc, id desc").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list optimization history: %w", err)
	}
	return records, nil
}

// Get returns one record with items.
func (s *Service) Get(ctx context.Context, id uint) (*models.OptimizedFormula, error) {
	return loadRecord(s.db.WithContext(ctx), id)
}

func loadRecord(db *gorm.DB, id uint) (*models.OptimizedFormula, error) {
	var record models.OptimizedFormula
	if err := db.Preload("Items", orderedItems).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("optimization %d", id)
		}
		return nil, fmt.Errorf("load optimization %d: %w", id, err)
	}
	return &record, nil
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position asc, id asc")
}
