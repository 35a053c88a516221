package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	Version       string                 `json:"version"`
	Database      string                 `json:"database"`
	Upstream      string                 `json:"upstream"`
	FailurePolicy string                 `json:"failurePolicy"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks. The catalog
// service is not called; a storefront build already degrades on its own.
func (ss *StoreServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sf := ss.Storefront()
	health := &HealthStatus{
		Status:        "healthy",
		Timestamp:     time.Now(),
		Version:       Version,
		Database:      "disabled",
		Upstream:      sf.UpstreamURL(),
		FailurePolicy: sf.Policy(),
		Details:       make(map[string]interface{}),
	}

	if ss.db != nil {
		health.Database = "ok"
		if err := ss.checkDatabaseHealth(r.Context()); err != nil {
			health.Status = "unhealthy"
			health.Database = "error"
			health.Details["database_error"] = err.Error()
		}
	}

	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	ss.respondJSON(w, health)
}

// checkDatabaseHealth pings the run log with a short deadline.
func (ss *StoreServer) checkDatabaseHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return ss.db.Ping(ctx)
}
