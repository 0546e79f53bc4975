// Package formulas gives read and write access to formulas and the
// material catalog they reference.
package formulas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"formulacost/internal/apperr"
	applog "formulacost/internal/log"
	"formulacost/models"
)

// Repository reads and writes formulas and materials.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a Repository on top of db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Line is one requested formula line.
type Line struct {
	MaterialCode  string          `json:"material_code"`
	MaterialName  string          `json:"material_name"`
	MaterialModel string          `json:"material_model"`
	UsageRatio    decimal.Decimal `json:"usage_ratio"`
}

// NewFormula is a complete formula submission. It is validated as a unit:
// one malformed line rejects the whole submission.
type NewFormula struct {
	QuotationNo         string `json:"quotation_no"`
	DocumentDate        string `json:"document_date"`
	ProductCode         string `json:"product_code"`
	ProductName         string `json:"product_name"`
	CustomerProductName string `json:"customer_product_name"`
	FormulaType         string `json:"formula_type"`
	Lines               []Line `json:"lines"`
}

// Filter narrows List results.
type Filter struct {
	Type   string
	Search string
}

// Validate reports every problem with the submission at once.
func (f NewFormula) Validate() error {
	var problems []string
	if strings.TrimSpace(f.ProductCode) == "" {
		problems = append(problems, "product_code is required")
	}
	if t := strings.TrimSpace(f.FormulaType); t != "" && !models.ValidFormulaType(strings.ToLower(t)) {
		problems = append(problems, fmt.Sprintf("formula_type %q is not supported", f.FormulaType))
	}
	if date := strings.TrimSpace(f.DocumentDate); date != "" {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			problems = append(problems, "document_date must be YYYY-MM-DD")
		}
	}
	if len(f.Lines) == 0 {
		problems = append(problems, "at least one line is required")
	}
	for i, line := range f.Lines {
		if strings.TrimSpace(line.MaterialCode) == "" {
			problems = append(problems, fmt.Sprintf("lines[%d].material_code is required", i))
		}
		if !line.UsageRatio.IsPositive() {
			problems = append(problems, fmt.Sprintf("lines[%d].usage_ratio must be > 0", i))
		}
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Create validates and stores a formula with its lines in one transaction.
func (r *Repository) Create(ctx context.Context, input NewFormula) (*models.Formula, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	formula, lines := input.build()
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return InsertFormula(tx, &formula, lines)
	}); err != nil {
		return nil, err
	}

	applog.Info(ctx, "formula created", "formula_id", formula.ID, "product_code", formula.ProductCode, "lines", len(lines))
	return &formula, nil
}

// Update validates input like Create and replaces the formula's header and
// every line atomically. A malformed line leaves the stored formula untouched.
func (r *Repository) Update(ctx context.Context, id uint, input NewFormula) (*models.Formula, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	next, lines := input.build()
	var formula models.Formula
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&formula, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("formula %d", id)
			}
			return fmt.Errorf("load formula %d: %w", id, err)
		}

		if err := tx.Model(&formula).
			Select("QuotationNo", "DocumentDate", "ProductCode", "ProductName", "CustomerProductName", "FormulaType").
			Updates(&next).Error; err != nil {
			return fmt.Errorf("update formula %d: %w", id, err)
		}
		if err := tx.Where("formula_id = ?", id).Delete(&models.FormulaMaterial{}).Error; err != nil {
			return fmt.Errorf("clear lines of formula %d: %w", id, err)
		}
		for i := range lines {
			lines[i].FormulaID = id
		}
		if err := tx.Create(&lines).Error; err != nil {
			return fmt.Errorf("replace lines of formula %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	formula.QuotationNo = next.QuotationNo
	formula.DocumentDate = next.DocumentDate
	formula.ProductCode = next.ProductCode
	formula.ProductName = next.ProductName
	formula.CustomerProductName = next.CustomerProductName
	formula.FormulaType = next.FormulaType
	formula.Materials = lines

	applog.Info(ctx, "formula updated", "formula_id", id, "lines", len(lines))
	return &formula, nil
}

func (f NewFormula) build() (models.Formula, []models.FormulaMaterial) {
	formula := models.Formula{
		QuotationNo:         strings.TrimSpace(f.QuotationNo),
		DocumentDate:        strings.TrimSpace(f.DocumentDate),
		ProductCode:         strings.TrimSpace(f.ProductCode),
		ProductName:         strings.TrimSpace(f.ProductName),
		CustomerProductName: strings.TrimSpace(f.CustomerProductName),
		FormulaType:         models.NormalizeFormulaType(f.FormulaType),
	}
	lines := make([]models.FormulaMaterial, 0, len(f.Lines))
	for i, line := range f.Lines {
		lines = append(lines, models.FormulaMaterial{
			Position:      i + 1,
			MaterialCode:  strings.TrimSpace(line.MaterialCode),
			MaterialName:  strings.TrimSpace(line.MaterialName),
			MaterialModel: strings.TrimSpace(line.MaterialModel),
			UsageRatio:    line.UsageRatio,
		})
	}
	return formula, lines
}

// InsertFormula writes formula and its lines using tx. Callers own the transaction.
func InsertFormula(tx *gorm.DB, formula *models.Formula, lines []models.FormulaMaterial) error {
	formula.Materials = nil
	if err := tx.Create(formula).Error; err != nil {
		return fmt.Errorf("create formula: %w", err)
	}
	for i := range lines {
		lines[i].FormulaID = formula.ID
	}
	if len(lines) > 0 {
		if err := tx.Create(&lines).Error; err != nil {
			return fmt.Errorf("create formula lines: %w", err)
		}
	}
	formula.Materials = lines
	return nil
}

// Get returns a formula with its lines in order.
func (r *Repository) Get(ctx context.Context, id uint) (*models.Formula, error) {
	var formula models.Formula
	if err := r.db.WithContext(ctx).
		Preload("Materials", models.OrderedMaterials).
		First(&formula, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("formula %d", id)
		}
		return nil, fmt.Errorf("load formula %d: %w", id, err)
	}
	return &formula, nil
}

// List returns formulas matching filter, newest first. Search matches product code or name.
func (r *Repository) List(ctx context.Context, filter Filter) ([]models.Formula, error) {
	query := r.db.WithContext(ctx).
		Preload("Materials", models.OrderedMaterials).
		Order("id desc")
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("formula_type = ?", t)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		like := "%" + search + "%"
		query = query.Where("lower(product_code) LIKE ? OR lower(product_name) LIKE ?", like, like)
	}

	var results []models.Formula
	if err := query.Find(&results).Error; err != nil {
		return nil, fmt.Errorf("list formulas: %w", err)
	}
	return results, nil
}

// Delete removes a formula and its lines. Optimization history that points at
// the formula is left untouched.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Formula{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete formula %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("formula %d", id)
		}
		if err := tx.Where("formula_id = ?", id).Delete(&models.FormulaMaterial{}).Error; err != nil {
			return fmt.Errorf("delete lines of formula %d: %w", id, err)
		}
		applog.Info(ctx, "formula deleted", "formula_id", id)
		return nil
	})
}

// Materials returns the catalog ordered by code.
func (r *Repository) Materials(ctx context.Context) ([]models.Material, error) {
	var materials []models.Material
	if err := r.db.WithContext(ctx).Order("code asc").Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return materials, nil
}

// MaterialsByCode resolves catalog entries for codes. Unknown codes are absent.
func (r *Repository) MaterialsByCode(ctx context.Context, codes []string) (map[string]models.Material, error) {
	return MaterialsByCode(r.db.WithContext(ctx), codes)
}

// MaterialsByCode is the transaction-friendly form of Repository.MaterialsByCode.
func MaterialsByCode(tx *gorm.DB, codes []string) (map[string]models.Material, error) {
	out := make(map[string]models.Material, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	var materials []models.Material
	if err := tx.Where("code IN ?", codes).Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("resolve materials: %w", err)
	}
	for _, m := range materials {
		out[m.Code] = m
	}
	return out, nil
}

// CreateMaterial adds a material to the catalog.
func (r *Repository) CreateMaterial(ctx context.Context, code, name, model string) (*models.Material, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return nil, apperr.Validation("code and name are required")
	}
	material := models.Material{Code: code, Name: name, Model: strings.TrimSpace(model)}
	if err := r.db.WithContext(ctx).Create(&material).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.Validation("material %s already exists", code)
		}
		return nil, fmt.Errorf("create material %s: %w", code, err)
	}
	return &material, nil
}
