package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"formulacost/internal/formulas"
	"formulacost/models"
)

type materialRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

type priceRequest struct {
	PriceDate    string          `json:"price_date"`
	MaterialCode string          `json:"material_code"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// FormulaResource serves /api/formulas and GET/PUT/DELETE /api/formulas/{id}.
func FormulaResource(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}

	segments := pathSegments(r, "/api/formulas")
	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			list, err := formulaRepo.List(r.Context(), formulas.Filter{Type: query.Get("type"), Search: query.Get("q")})
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, list)
		case http.MethodPost:
			var req formulas.NewFormula
			if !decodeJSON(w, r, &req) {
				return
			}
			formula, err := formulaRepo.Create(r.Context(), req)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, formula)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	id, ok := parseID(segments[0])
	if !ok || len(segments) > 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		formula, err := formulaRepo.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, formula)
	case http.MethodPut:
		var req formulas.NewFormula
		if !decodeJSON(w, r, &req) {
			return
		}
		formula, err := formulaRepo.Update(r.Context(), id, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, formula)
	case http.MethodDelete:
		if err := formulaRepo.Delete(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Materials serves GET/POST /api/materials.
func Materials(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := formulaRepo.Materials(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req materialRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		material, err := formulaRepo.CreateMaterial(r.Context(), req.Code, req.Name, req.Model)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, material)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Prices serves PUT /api/prices, upserting one row per (date, material), and
// DELETE /api/prices?date=&material_code= removing a single day's price.
func Prices(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req []priceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		rows := make([]models.DailyMaterialPrice, 0, len(req))
		for _, p := range req {
			rows = append(rows, models.DailyMaterialPrice{
				PriceDate:    p.PriceDate,
				MaterialCode: p.MaterialCode,
				UnitPrice:    p.UnitPrice,
			})
		}
		written, err := prices.Upsert(r.Context(), rows)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"upserted": written})
	case http.MethodDelete:
		query := r.URL.Query()
		if err := prices.Delete(r.Context(), query.Get("date"), query.Get("material_code")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
