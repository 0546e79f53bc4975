package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"formulacost/internal/ai"
	"formulacost/internal/apperr"
	"formulacost/internal/formulas"
	applog "formulacost/internal/log"
	"formulacost/internal/optimization"
	"formulacost/internal/optimizer"
	"formulacost/internal/pricing"
	"formulacost/internal/substitution"
	"formulacost/models"
)

// Assistant proposes substitutions, reviews formulas and answers questions.
// *ai.Client satisfies it.
type Assistant interface {
	SuggestSubstitutions(ctx context.Context, materials []ai.Material) (ai.Suggestions, error)
	Chat(ctx context.Context, message string, conv ai.Conversation, ws ai.Workspace) (string, ai.Conversation, error)
	AnalyzeFormula(ctx context.Context, brief ai.FormulaBrief, catalog []ai.Material, requirements string) (ai.Analysis, error)
}

// Option adjusts the handler dependencies built by Configure.
type Option func(*options)

type options struct {
	assistant       Assistant
	referenceFactor decimal.Decimal
}

// WithAssistant enables the assistant endpoints.
func WithAssistant(a Assistant) Option {
	return func(o *options) { o.assistant = a }
}

// WithReferenceFactor sets the optimizer's fallback group factor.
func WithReferenceFactor(f decimal.Decimal) Option {
	return func(o *options) { o.referenceFactor = f }
}

var (
	sessionManager *scs.SessionManager
	database       *gorm.DB

	network     *substitution.Store
	prices      *pricing.Reader
	formulaRepo *formulas.Repository
	costs       *optimizer.Optimizer
	lifecycle   *optimization.Service
	assistant   Assistant
)

// Configure installs the shared dependencies used by the HTTP handlers.
func Configure(sm *scs.SessionManager, db *gorm.DB, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	sessionManager = sm
	database = db
	assistant = o.assistant
	if db == nil {
		network, prices, formulaRepo, costs, lifecycle = nil, nil, nil, nil, nil
		return
	}
	network = substitution.NewStore(db)
	prices = pricing.NewReader(db)
	formulaRepo = formulas.NewRepository(db)
	costs = optimizer.New(formulaRepo, network, prices, optimizer.Config{ReferenceFactor: o.referenceFactor})
	lifecycle = optimization.NewService(db)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		applog.Error(context.Background(), "failed to encode json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(r, err)
	writeJSONError(w, status, message)
}

func errorStatus(r *http.Request, err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, apperr.Message(err)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrFormulaNotFound):
		return http.StatusNotFound, apperr.Message(err)
	case errors.Is(err, apperr.ErrDuplicateRule),
		errors.Is(err, apperr.ErrDuplicateMember),
		errors.Is(err, apperr.ErrDuplicateGroup),
		errors.Is(err, apperr.ErrAlreadyApplied),
		errors.Is(err, apperr.ErrGroupInUse):
		return http.StatusConflict, apperr.Message(err)
	default:
		applog.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		applog.Debug(r.Context(), "invalid request payload", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// requireDatabase answers 503 when handlers were configured without storage.
func requireDatabase(w http.ResponseWriter, r *http.Request) bool {
	if database == nil {
		applog.Debug(r.Context(), "api request without database", "path", r.URL.Path)
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return false
	}
	return true
}

// pathSegments splits the part of the URL path after prefix.
func pathSegments(r *http.Request, prefix string) []string {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parseID(value string) (uint, bool) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// parseDate reads a YYYY-MM-DD value. An empty value means today.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Validation("date must be YYYY-MM-DD, got %q", value)
	}
	return date, nil
}
