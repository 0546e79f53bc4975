package handlers

import (
	"net/http"

	applog "formulacost/internal/log"
	"formulacost/internal/optimization"
	"formulacost/internal/optimizer"
	"formulacost/models"
)

type optimizeRequest struct {
	FormulaID uint   `json:"formula_id"`
	Date      string `json:"date"`
	// Apply promotes the saved record straight into a production formula.
	Apply bool `json:"apply"`
}

type savedOptimizationResponse struct {
	ID             uint              `json:"id"`
	Result         *optimizer.Result `json:"result"`
	AppliedFormula *models.Formula   `json:"applied_formula,omitempty"`
}

// applyFailedResponse reports an apply that failed after the record was
// saved, so the caller can retry with POST /api/optimizations/{id}/apply.
type applyFailedResponse struct {
	Error string `json:"error"`
	ID    uint   `json:"id"`
}

type optimizationResponse struct {
	models.OptimizedFormula
	Result *optimizer.Result `json:"result"`
}

// Optimize serves GET /api/optimize?formula_id=&date= and returns a draft result.
func Optimize(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	formulaID, ok := parseID(query.Get("formula_id"))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "formula_id is required")
		return
	}
	date, err := parseDate(query.Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := costs.Optimize(r.Context(), formulaID, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// OptimizationResource serves the saved-optimization lifecycle:
// GET/POST /api/optimizations, GET /api/optimizations/{id} and
// POST /api/optimizations/{id}/apply.
func OptimizationResource(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}

	segments := pathSegments(r, "/api/optimizations")
	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			listOptimizations(w, r)
		case http.MethodPost:
			createOptimization(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	id, ok := parseID(segments[0])
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		record, err := lifecycle.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, optimizationResponse{OptimizedFormula: *record, Result: optimization.Result(*record)})
	case len(segments) == 2 && segments[1] == "apply" && r.Method == http.MethodPost:
		formula, err := lifecycle.Apply(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, formula)
	case len(segments) <= 2:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func listOptimizations(w http.ResponseWriter, r *http.Request) {
	records, err := lifecycle.History(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func createOptimization(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FormulaID == 0 {
		writeJSONError(w, http.StatusBadRequest, "formula_id is required")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := costs.Optimize(r.Context(), req.FormulaID, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := lifecycle.Save(r.Context(), result)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := savedOptimizationResponse{ID: id, Result: result}
	if req.Apply {
		formula, err := lifecycle.Apply(r.Context(), id)
		if err != nil {
			status, message := errorStatus(r, err)
			applog.Warn(r.Context(), "saved optimization not applied", "optimization_id", id, "error", err)
			writeJSON(w, status, applyFailedResponse{Error: message, ID: id})
			return
		}
		resp.AppliedFormula = formula
	}
	writeJSON(w, http.StatusCreated, resp)
}
