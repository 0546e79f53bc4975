package formulas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"formulacost/internal/apperr"
	"formulacost/models"
)

func newTestRepository(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:formulas-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewRepository(db), db
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestCreateStoresLinesInOrder(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	created, err := repo.Create(ctx, NewFormula{
		QuotationNo:  "Q-100",
		DocumentDate: "2024-03-01",
		ProductCode:  "P-1",
		ProductName:  "Sealant",
		Lines: []Line{
			{MaterialCode: "B", UsageRatio: dec("0.25")},
			{MaterialCode: "A", MaterialName: "Resin", UsageRatio: dec("0.75")},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.FormulaType != models.FormulaTypeQuotation {
		t.Fatalf("expected default type quotation, got %q", created.FormulaType)
	}

	loaded, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(loaded.Materials) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(loaded.Materials))
	}
	if loaded.Materials[0].MaterialCode != "B" || loaded.Materials[1].MaterialCode != "A" {
		t.Fatalf("lines out of order: %+v", loaded.Materials)
	}
	if !loaded.Materials[1].UsageRatio.Equal(dec("0.75")) {
		t.Fatalf("usage ratio = %s, want 0.75", loaded.Materials[1].UsageRatio)
	}
}

func TestCreateRejectsWholeSubmission(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)

	_, err := repo.Create(ctx, NewFormula{
		ProductCode:  "P-1",
		DocumentDate: "01/03/2024",
		Lines: []Line{
			{MaterialCode: "A", UsageRatio: dec("0.5")},
			{MaterialCode: "", UsageRatio: dec("0.5")},
			{MaterialCode: "C", UsageRatio: dec("0")},
		},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msg := apperr.Message(err)
	for _, want := range []string{"document_date", "lines[1].material_code", "lines[2].usage_ratio"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q does not mention %s", msg, want)
		}
	}

	var count int64
	db.Model(&models.Formula{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no formula written, found %d", count)
	}
	db.Model(&models.FormulaMaterial{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no lines written, found %d", count)
	}
}

func TestListFiltersByTypeAndSearch(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	inputs := []NewFormula{
		{ProductCode: "SEAL-1", ProductName: "Window sealant", Lines: []Line{{MaterialCode: "A", UsageRatio: dec("1")}}},
		{ProductCode: "GLUE-1", ProductName: "Wood glue", Lines: []Line{{MaterialCode: "A", UsageRatio: dec("1")}}},
		{ProductCode: "SEAL-2", ProductName: "Roof sealant", FormulaType: models.FormulaTypeProduction, Lines: []Line{{MaterialCode: "A", UsageRatio: dec("1")}}},
	}
	for _, in := range inputs {
		if _, err := repo.Create(ctx, in); err != nil {
			t.Fatalf("Create %s: %v", in.ProductCode, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{}, want: []string{"SEAL-2", "GLUE-1", "SEAL-1"}},
		{name: "quotations", filter: Filter{Type: models.FormulaTypeQuotation}, want: []string{"GLUE-1", "SEAL-1"}},
		{name: "search name", filter: Filter{Search: "SEALANT"}, want: []string{"SEAL-2", "SEAL-1"}},
		{name: "search code and type", filter: Filter{Type: models.FormulaTypeQuotation, Search: "seal"}, want: []string{"SEAL-1"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			codes := make([]string, 0, len(got))
			for _, f := range got {
				codes = append(codes, f.ProductCode)
			}
			if diff := cmp.Diff(tt.want, codes); diff != "" {
				t.Fatalf("List(%+v) mismatch (-want +got):\n%s", tt.filter, diff)
			}
		})
	}
}

func TestDeleteRemovesLinesButKeepsHistory(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)

	created, err := repo.Create(ctx, NewFormula{ProductCode: "P", Lines: []Line{{MaterialCode: "A", UsageRatio: dec("1")}}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	record := models.OptimizedFormula{
		SourceFormulaID: created.ID,
		TargetDate:      "2024-03-01",
		Status:          models.OptimizationStatusSaved,
		AllPriced:       true,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed history: %v", err)
	}

	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := repo.Delete(ctx, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	var lines int64
	db.Model(&models.FormulaMaterial{}).Where("formula_id = ?", created.ID).Count(&lines)
	if lines != 0 {
		t.Fatalf("expected lines removed, found %d", lines)
	}
	var history int64
	db.Model(&models.OptimizedFormula{}).Count(&history)
	if history != 1 {
		t.Fatalf("expected history untouched, found %d records", history)
	}
}

func TestMaterialsCatalog(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	if _, err := repo.CreateMaterial(ctx, "B", "Filler", "F-2"); err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	if _, err := repo.CreateMaterial(ctx, "A", "Resin", ""); err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	if _, err := repo.CreateMaterial(ctx, "A", "Resin again", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for duplicate code, got %v", err)
	}
	if _, err := repo.CreateMaterial(ctx, "", "x", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for blank code, got %v", err)
	}

	all, err := repo.Materials(ctx)
	if err != nil {
		t.Fatalf("Materials: %v", err)
	}
	if len(all) != 2 || all[0].Code != "A" {
		t.Fatalf("unexpected catalog: %+v", all)
	}

	byCode, err := repo.MaterialsByCode(ctx, []string{"B", "Z"})
	if err != nil {
		t.Fatalf("MaterialsByCode: %v", err)
	}
	if len(byCode) != 1 || byCode["B"].Model != "F-2" {
		t.Fatalf("unexpected lookup: %+v", byCode)
	}
}

func TestUpdateReplacesHeaderAndLines(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)

	created, err := repo.Create(ctx, NewFormula{
		QuotationNo: "Q-1",
		ProductCode: "P-1",
		ProductName: "Sealant",
		Lines: []Line{
			{MaterialCode: "A", UsageRatio: dec("0.5")},
			{MaterialCode: "B", UsageRatio: dec("0.3")},
			{MaterialCode: "C", UsageRatio: dec("0.2")},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := repo.Update(ctx, created.ID, NewFormula{
		ProductCode: "P-1B",
		ProductName: "Sealant v2",
		FormulaType: models.FormulaTypeProduction,
		Lines: []Line{
			{MaterialCode: "D", MaterialName: "Resin lite", UsageRatio: dec("0.6")},
			{MaterialCode: "A", UsageRatio: dec("0.4")},
		},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != created.ID || len(updated.Materials) != 2 {
		t.Fatalf("unexpected update result %+v", updated)
	}

	loaded, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.ProductCode != "P-1B" || loaded.QuotationNo != "" || loaded.FormulaType != models.FormulaTypeProduction {
		t.Fatalf("header not replaced: %+v", loaded)
	}
	codes := make([]string, 0, len(loaded.Materials))
	for _, line := range loaded.Materials {
		codes = append(codes, line.MaterialCode)
	}
	if diff := cmp.Diff([]string{"D", "A"}, codes); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	if loaded.Materials[0].Position != 1 || loaded.Materials[0].MaterialName != "Resin lite" {
		t.Fatalf("unexpected first line %+v", loaded.Materials[0])
	}

	var stored int64
	db.Model(&models.FormulaMaterial{}).Where("formula_id = ?", created.ID).Count(&stored)
	if stored != 2 {
		t.Fatalf("expected old lines to be removed, found %d", stored)
	}
}

func TestUpdateRejectsWholeSubmission(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	created, err := repo.Create(ctx, NewFormula{ProductCode: "P-1", Lines: []Line{{MaterialCode: "A", UsageRatio: dec("1")}}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = repo.Update(ctx, created.ID, NewFormula{
		ProductCode: "P-2",
		Lines: []Line{
			{MaterialCode: "B", UsageRatio: dec("0.5")},
			{MaterialCode: "", UsageRatio: dec("0.5")},
		},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Update() error = %v, want validation", err)
	}

	loaded, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.ProductCode != "P-1" || len(loaded.Materials) != 1 || loaded.Materials[0].MaterialCode != "A" {
		t.Fatalf("formula changed by a rejected update: %+v", loaded)
	}

	if _, err := repo.Update(ctx, created.ID+10, NewFormula{ProductCode: "X", Lines: []Line{{MaterialCode: "A", UsageRatio: dec("1")}}}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Update unknown id error = %v, want not found", err)
	}
}
