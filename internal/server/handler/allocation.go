package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// AllocationService defines what the allocation handler needs.
type AllocationService interface {
	GetAllocation(ctx context.Context, amount float64, asset string, profile domain.RiskProfile) (domain.AllocationStrategy, error)
	Quotes(ctx context.Context, asset string) []domain.Quote
}

// AllocationHandler serves allocation and quote endpoints.
type AllocationHandler struct {
	svc    AllocationService
	logger *slog.Logger
}

// NewAllocationHandler creates an AllocationHandler.
func NewAllocationHandler(svc AllocationService, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{svc: svc, logger: logger}
}

// GetAllocation returns the allocation for a prospective deposit.
// GET /api/allocation?amount=1000&asset=USDC&risk=moderate
func (h *AllocationHandler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	asset := q.Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}
	risk := q.Get("risk")
	if risk == "" {
		risk = string(domain.RiskModerate)
	}
	profile, err := domain.ParseRiskProfile(risk)
	if err != nil {
		writeError(w, http.StatusBadRequest, "risk must be conservative, moderate or aggressive")
		return
	}

	strategy, err := h.svc.GetAllocation(r.Context(), amount, asset, profile)
	if err != nil {
		writeServiceError(w, r, h.logger, "get allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

type quotesResponse struct {
	Asset  string         `json:"asset"`
	Quotes []domain.Quote `json:"quotes"`
}

// ListQuotes returns every provider's positive quote for an asset.
// GET /api/quotes?asset=USDC
func (h *AllocationHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(r.URL.Query().Get("asset"))
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}
	writeJSON(w, http.StatusOK, quotesResponse{Asset: asset, Quotes: h.svc.Quotes(r.Context(), asset)})
}
