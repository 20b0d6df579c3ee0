package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/proust-questionnaire/internal/repository"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports whether the service and its store are up.
type HealthHandler struct {
	db     repository.HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db repository.HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

type componentStatus struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status   string                     `json:"status"`
	Services map[string]componentStatus `json:"services"`
}

// HandleHealth pings the database.
//
// HTTP: GET /api/health
// 200 when healthy, 503 otherwise. The error itself is only logged.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Services: map[string]componentStatus{"database": {Status: "ok"}},
	}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
		resp.Status = "degraded"
		resp.Services["database"] = componentStatus{Status: "unavailable"}
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
