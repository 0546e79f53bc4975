package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	applog "formulacost/internal/log"
)

const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status   string    `json:"status"`
	Database string    `json:"database"`
	Time     time.Time `json:"time"`
}

// Health reports readiness. With a database configured it pings the
// connection pool and answers 503 when the ping fails; without one the
// service is still up and the database is reported as unconfigured.
func Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "unconfigured", Time: time.Now().UTC()}
	status := http.StatusOK

	if database != nil {
		if err := pingDatabase(r.Context()); err != nil {
			applog.Warn(r.Context(), "health check database ping failed", "error", err)
			resp.Status, resp.Database = "degraded", "down"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "up"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		applog.Error(r.Context(), "failed to encode health response", "error", err)
		return
	}
	applog.Debug(r.Context(), "health check responded", "status", status, "database", resp.Database)
}

func pingDatabase(ctx context.Context) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
