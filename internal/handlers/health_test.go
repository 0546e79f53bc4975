package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func checkHealth(t *testing.T) (int, healthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	Health(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Time.IsZero() {
		t.Fatal("expected response time to be populated")
	}
	return w.Code, resp
}

func TestHealthWithoutDatabase(t *testing.T) {
	originalSM, originalDB := sessionManager, database
	Configure(sessionManager, nil)
	t.Cleanup(func() { Configure(originalSM, originalDB) })

	code, resp := checkHealth(t)
	if code != http.StatusOK || resp.Status != "ok" || resp.Database != "unconfigured" {
		t.Fatalf("unexpected health %d %+v", code, resp)
	}
}

func TestHealthPingsDatabase(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	t.Cleanup(cleanup)

	code, resp := checkHealth(t)
	if code != http.StatusOK || resp.Status != "ok" || resp.Database != "up" {
		t.Fatalf("unexpected health %d %+v", code, resp)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.Close()

	code, resp = checkHealth(t)
	if code != http.StatusServiceUnavailable || resp.Status != "degraded" || resp.Database != "down" {
		t.Fatalf("expected 503 with database down, got %d %+v", code, resp)
	}
}
