package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the database and Redis answer.
type HealthHandler struct {
	checks map[string]Pinger
	logger *slog.Logger
}

func NewHealthHandler(logger *slog.Logger, db, redis Pinger) *HealthHandler {
	return &HealthHandler{
		checks: map[string]Pinger{"database": db, "redis": redis},
		logger: logger,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Component string `json:"component,omitempty"`
}

// HandleHealth pings every dependency with a short timeout.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, name := range []string{"database", "redis"} {
		p := h.checks[name]
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("component", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Component: name})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
