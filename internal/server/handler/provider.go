package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// ProviderService defines what the provider handler needs.
type ProviderService interface {
	ProviderHealth(ctx context.Context) ([]domain.HealthStatus, error)
	InvalidateCache(ctx context.Context, key, prefix string) (int, error)
}

// ProviderHandler serves provider health and cache administration.
type ProviderHandler struct {
	svc    ProviderService
	logger *slog.Logger
}

// NewProviderHandler creates a ProviderHandler.
func NewProviderHandler(svc ProviderService, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{svc: svc, logger: logger}
}

type providerHealthResponse struct {
	Providers []domain.HealthStatus `json:"providers"`
}

// Health reports every provider's status.
// GET /api/providers/health
func (h *ProviderHandler) Health(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.svc.ProviderHealth(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "provider health", err)
		return
	}
	writeJSON(w, http.StatusOK, providerHealthResponse{Providers: statuses})
}

// InvalidateCache drops one key or every key under a prefix.
// DELETE /api/cache?key=... or DELETE /api/cache?prefix=...
func (h *ProviderHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := h.svc.InvalidateCache(r.Context(), q.Get("key"), q.Get("prefix"))
	if err != nil {
		writeServiceError(w, r, h.logger, "invalidate cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
