package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"formulacost/internal/ai"
	"formulacost/internal/formulas"
	applog "formulacost/internal/log"
	"formulacost/models"
)

const workspaceMaterialSample = 20

type chatRequest struct {
	Message      string          `json:"message"`
	Conversation ai.Conversation `json:"conversation"`
}

type chatResponse struct {
	Reply        string          `json:"reply"`
	Conversation ai.Conversation `json:"conversation"`
}

type analyzeRequest struct {
	FormulaID    uint   `json:"formula_id"`
	Date         string `json:"date"`
	Requirements string `json:"requirements"`
}

// acceptRequest carries one proposal. A GroupID makes it a group membership,
// otherwise it is a direct rule.
type acceptRequest struct {
	SourceCode       string          `json:"source_code"`
	TargetCode       string          `json:"target_code"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	MaxRatio         decimal.Decimal `json:"max_ratio"`
	GroupID          uint            `json:"group_id"`
	MaterialCode     string          `json:"material_code"`
	Priority         int             `json:"priority"`
}

// AssistantResource serves /api/assistant/{suggest,chat,analyze,accept}.
func AssistantResource(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	segments := pathSegments(r, "/api/assistant")
	if len(segments) != 1 {
		http.NotFound(w, r)
		return
	}

	switch segments[0] {
	case "suggest":
		if !requireAssistant(w, r) {
			return
		}
		suggestSubstitutions(w, r)
	case "chat":
		if !requireAssistant(w, r) {
			return
		}
		chatWithAssistant(w, r)
	case "analyze":
		if !requireAssistant(w, r) {
			return
		}
		analyzeFormula(w, r)
	case "accept":
		acceptSuggestion(w, r)
	default:
		http.NotFound(w, r)
	}
}

func requireAssistant(w http.ResponseWriter, r *http.Request) bool {
	if assistant == nil {
		applog.Debug(r.Context(), "assistant request without configured client")
		writeJSONError(w, http.StatusServiceUnavailable, "assistant not configured")
		return false
	}
	return true
}

func catalog(r *http.Request) ([]models.Material, error) {
	return formulaRepo.Materials(r.Context())
}

func catalogForAssistant(materials []models.Material) []ai.Material {
	out := make([]ai.Material, 0, len(materials))
	for _, m := range materials {
		out = append(out, ai.Material{Code: m.Code, Name: m.Name, Model: m.Model})
	}
	return out
}

func suggestSubstitutions(w http.ResponseWriter, r *http.Request) {
	materials, err := catalog(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	suggestions, err := assistant.SuggestSubstitutions(r.Context(), catalogForAssistant(materials))
	if err != nil {
		applog.Warn(r.Context(), "assistant suggestion failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "assistant unavailable")
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func chatWithAssistant(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	materials, err := catalog(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quotations, err := formulaRepo.List(r.Context(), formulas.Filter{Type: models.FormulaTypeQuotation})
	if err != nil {
		writeError(w, r, err)
		return
	}
	ws := ai.Workspace{MaterialCount: len(materials), FormulaCount: len(quotations)}
	for i, m := range materials {
		if i == workspaceMaterialSample {
			break
		}
		ws.RecentMaterials = append(ws.RecentMaterials, m.Name)
	}

	reply, conv, err := assistant.Chat(r.Context(), req.Message, req.Conversation, ws)
	if err != nil {
		applog.Warn(r.Context(), "assistant chat failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "assistant unavailable")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, Conversation: conv})
}

// analyzeFormula sends one formula with its prices on the requested day and
// the catalog to the assistant. The answer is advisory and nothing is stored.
func analyzeFormula(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
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

	formula, err := formulaRepo.Get(r.Context(), req.FormulaID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	codes := make([]string, 0, len(formula.Materials))
	for _, line := range formula.Materials {
		codes = append(codes, line.MaterialCode)
	}
	unitPrices, err := prices.PricesOn(r.Context(), codes, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	materials, err := catalog(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	brief := ai.FormulaBrief{
		ProductCode:         formula.ProductCode,
		ProductName:         formula.ProductName,
		CustomerProductName: formula.CustomerProductName,
		FormulaType:         formula.FormulaType,
		PriceDate:           models.DateKey(date),
	}
	for _, line := range formula.Materials {
		price, ok := unitPrices[line.MaterialCode]
		brief.Lines = append(brief.Lines, ai.FormulaLine{
			MaterialCode: line.MaterialCode,
			MaterialName: line.MaterialName,
			UsageRatio:   line.UsageRatio,
			UnitPrice:    price,
			Priced:       ok,
		})
	}

	analysis, err := assistant.AnalyzeFormula(r.Context(), brief, catalogForAssistant(materials), req.Requirements)
	if err != nil {
		applog.Warn(r.Context(), "assistant analysis failed", "formula_id", req.FormulaID, "error", err)
		writeJSONError(w, http.StatusBadGateway, "assistant unavailable")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// acceptSuggestion stores a proposal through the same validation as manual entry.
func acceptSuggestion(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.GroupID != 0 {
		member, err := network.AddMember(r.Context(), req.GroupID, req.MaterialCode, req.ConversionFactor, req.Priority)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
		return
	}

	rule, err := network.AddSubstitution(r.Context(), req.SourceCode, req.TargetCode, req.ConversionFactor, req.MaxRatio, "assistant suggestion")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}
