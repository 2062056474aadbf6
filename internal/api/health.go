package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dutschedule/dutnotify/internal/health"
)

// Checker answers health checks per service. *health.Server implements it.
type Checker interface {
	Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error)
}

// HealthHandler reports service readiness over HTTP.
type HealthHandler struct {
	*Handler
	checker Checker
}

// NewHealthHandler creates a new HealthHandler. Without a checker only the
// store is probed.
func NewHealthHandler(h *Handler, checker Checker) *HealthHandler {
	return &HealthHandler{Handler: h, checker: checker}
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

type healthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	News     string `json:"news"`
	Sessions int    `json:"sessions"`
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Store: h.serviceStatus(ctx, ""),
		News:  h.serviceStatus(ctx, health.NewsService),
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}

	status := http.StatusOK
	resp.Status = "ok"
	if resp.Store != healthpb.HealthCheckResponse_SERVING.String() {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else if resp.News != healthpb.HealthCheckResponse_SERVING.String() {
		resp.Status = "degraded"
	}
	JSON(w, status, resp)
}

func (h *HealthHandler) serviceStatus(ctx context.Context, service string) string {
	if h.checker == nil {
		if service != "" {
			return healthpb.HealthCheckResponse_UNKNOWN.String()
		}
		if err := h.repo.Ping(ctx); err != nil {
			slog.Warn("Health check: store unreachable", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING.String()
		}
		return healthpb.HealthCheckResponse_SERVING.String()
	}
	st, err := h.checker.Check(ctx, service)
	if err != nil {
		slog.Warn("Health check failed", "service", service, "error", err)
		return healthpb.HealthCheckResponse_UNKNOWN.String()
	}
	return st.String()
}
