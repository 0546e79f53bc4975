package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"formulacost/internal/optimizer"
	"formulacost/models"
)

// seedOptimizable creates formula A(1.0), rule A->B (1.2, 0.5) and prices A=10, B=5 on 2024-03-01.
func seedOptimizable(t *testing.T, db *gorm.DB) uint {
	t.Helper()
	formula := models.Formula{
		ProductCode: "P-1",
		ProductName: "Sealant",
		FormulaType: models.FormulaTypeQuotation,
		Materials: []models.FormulaMaterial{
			{Position: 1, MaterialCode: "A", UsageRatio: decimal.NewFromInt(1)},
		},
	}
	if err := db.Create(&formula).Error; err != nil {
		t.Fatalf("seed formula: %v", err)
	}
	if _, err := network.AddSubstitution(context.Background(), "A", "B",
		decimal.RequireFromString("1.2"), decimal.RequireFromString("0.5"), ""); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	if _, err := prices.Upsert(context.Background(), []models.DailyMaterialPrice{
		{PriceDate: "2024-03-01", MaterialCode: "A", UnitPrice: decimal.NewFromInt(10)},
		{PriceDate: "2024-03-01", MaterialCode: "B", UnitPrice: decimal.NewFromInt(5)},
	}); err != nil {
		t.Fatalf("seed prices: %v", err)
	}
	return formula.ID
}

func TestOptimizeDraft(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	t.Cleanup(cleanup)
	formulaID := seedOptimizable(t, db)

	w := serve(t, Optimize, http.MethodGet, fmt.Sprintf("/api/optimize?formula_id=%d&date=2024-03-01", formulaID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var result optimizer.Result
	decodeBody(t, w, &result)
	if !result.TotalAfter.Equal(decimal.NewFromInt(8)) || !result.Savings.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected totals after=%s savings=%s", result.TotalAfter, result.Savings)
	}

	var saved int64
	db.Model(&models.OptimizedFormula{}).Count(&saved)
	if saved != 0 {
		t.Fatalf("draft optimization must not persist, found %d records", saved)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "missing formula id", path: "/api/optimize?date=2024-03-01", want: http.StatusBadRequest},
		{name: "bad date", path: fmt.Sprintf("/api/optimize?formula_id=%d&date=03/01/2024", formulaID), want: http.StatusBadRequest},
		{name: "unknown formula", path: "/api/optimize?formula_id=999&date=2024-03-01", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serve(t, Optimize, http.MethodGet, tt.path, ""); w.Code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestOptimizationSaveApplyHistory(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	t.Cleanup(cleanup)
	formulaID := seedOptimizable(t, db)

	w := serve(t, OptimizationResource, http.MethodPost, "/api/optimizations", fmt.Sprintf(`{"formula_id":%d,"date":"2024-03-01"}`, formulaID))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var saved savedOptimizationResponse
	decodeBody(t, w, &saved)
	if saved.ID == 0 || saved.AppliedFormula != nil {
		t.Fatalf("unexpected save response %+v", saved)
	}

	w = serve(t, OptimizationResource, http.MethodGet, fmt.Sprintf("/api/optimizations/%d", saved.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var detail optimizationResponse
	decodeBody(t, w, &detail)
	if detail.Status != models.OptimizationStatusSaved || len(detail.Items) != 1 || detail.Result == nil {
		t.Fatalf("unexpected detail %+v", detail)
	}

	applyPath := fmt.Sprintf("/api/optimizations/%d/apply", saved.ID)
	w = serve(t, OptimizationResource, http.MethodPost, applyPath, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first apply, got %d (%s)", w.Code, w.Body.String())
	}
	var formula models.Formula
	decodeBody(t, w, &formula)
	if formula.FormulaType != models.FormulaTypeProduction || len(formula.Materials) != 2 {
		t.Fatalf("unexpected production formula %+v", formula)
	}

	if w := serve(t, OptimizationResource, http.MethodPost, applyPath, ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second apply, got %d", w.Code)
	}
	if w := serve(t, OptimizationResource, http.MethodPost, "/api/optimizations/999/apply", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown optimization, got %d", w.Code)
	}

	w = serve(t, OptimizationResource, http.MethodGet, "/api/optimizations", "")
	var history []models.OptimizedFormula
	decodeBody(t, w, &history)
	if len(history) != 1 || history[0].Status != models.OptimizationStatusApplied {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestOptimizationSaveAndApplyInOneCall(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	t.Cleanup(cleanup)
	formulaID := seedOptimizable(t, db)

	w := serve(t, OptimizationResource, http.MethodPost, "/api/optimizations", fmt.Sprintf(`{"formula_id":%d,"date":"2024-03-01","apply":true}`, formulaID))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var saved savedOptimizationResponse
	decodeBody(t, w, &saved)
	if saved.AppliedFormula == nil || saved.AppliedFormula.ID == 0 {
		t.Fatalf("expected applied formula in response, got %+v", saved)
	}
}

func TestOptimizationApplyFailureKeepsSavedID(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	t.Cleanup(cleanup)
	formulaID := seedOptimizable(t, db)

	if err := db.Callback().Create().Before("gorm:create").Register("test:refuse_formula", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Model.(*models.Formula); ok {
			tx.AddError(errors.New("formulas table is read only"))
		}
	}); err != nil {
		t.Fatalf("register callback: %v", err)
	}

	w := serve(t, OptimizationResource, http.MethodPost, "/api/optimizations", fmt.Sprintf(`{"formula_id":%d,"date":"2024-03-01","apply":true}`, formulaID))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d (%s)", w.Code, w.Body.String())
	}
	var failed applyFailedResponse
	decodeBody(t, w, &failed)
	if failed.ID == 0 || failed.Error == "" {
		t.Fatalf("expected error with saved id, got %+v", failed)
	}

	var record models.OptimizedFormula
	if err := db.First(&record, failed.ID).Error; err != nil {
		t.Fatalf("saved record %d missing: %v", failed.ID, err)
	}
	if record.Status != models.OptimizationStatusSaved {
		t.Fatalf("expected record to stay saved, got %q", record.Status)
	}
}

func TestGroupInUseConflict(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	t.Cleanup(cleanup)

	formula := models.Formula{ProductCode: "P", FormulaType: models.FormulaTypeQuotation, Materials: []models.FormulaMaterial{
		{Position: 1, MaterialCode: "A", UsageRatio: decimal.NewFromInt(1)},
	}}
	if err := db.Create(&formula).Error; err != nil {
		t.Fatalf("seed formula: %v", err)
	}
	group, err := network.CreateGroup(context.Background(), "Resins", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	for _, code := range []string{"A", "B"} {
		if _, err := network.AddMember(context.Background(), group.ID, code, decimal.NewFromInt(1), 0); err != nil {
			t.Fatalf("AddMember %s: %v", code, err)
		}
	}
	if _, err := prices.Upsert(context.Background(), []models.DailyMaterialPrice{
		{PriceDate: "2024-03-01", MaterialCode: "A", UnitPrice: decimal.NewFromInt(10)},
		{PriceDate: "2024-03-01", MaterialCode: "B", UnitPrice: decimal.NewFromInt(7)},
	}); err != nil {
		t.Fatalf("seed prices: %v", err)
	}

	w := serve(t, OptimizationResource, http.MethodPost, "/api/optimizations", fmt.Sprintf(`{"formula_id":%d,"date":"2024-03-01"}`, formula.ID))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	if w := serve(t, GroupResource, http.MethodDelete, fmt.Sprintf("/api/groups/%d", group.ID), ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting referenced group, got %d (%s)", w.Code, w.Body.String())
	}
}
