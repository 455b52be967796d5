package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// PositionService defines what the position handler needs.
type PositionService interface {
	GetPosition(ctx context.Context, user, asset string) ([]domain.Position, error)
	UpdateValuation(ctx context.Context, user, asset, provider string, currentValueUSD, apy float64) (domain.Position, error)
	ApplyLedgerEvent(ctx context.Context, ev domain.LedgerEvent) (domain.Position, error)
}

// PositionHandler serves ledger reads and writes.
type PositionHandler struct {
	svc    PositionService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(svc PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{svc: svc, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a user's positions, optionally for one asset.
// GET /api/positions/{user}?asset=USDC
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	user := pathParam(r, "user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user address")
		return
	}

	positions, err := h.svc.GetPosition(r.Context(), user, r.URL.Query().Get("asset"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ApplyEvent applies a confirmed deposit or withdraw from the indexer.
// POST /api/ledger/events
func (h *PositionHandler) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.LedgerEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.svc.ApplyLedgerEvent(r.Context(), ev)
	if err != nil {
		writeServiceError(w, r, h.logger, "apply ledger event", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type valuationRequest struct {
	UserAddress     string   `json:"userAddress"`
	Asset           string   `json:"asset"`
	ProviderID      string   `json:"providerId"`
	CurrentValueUSD float64  `json:"currentValueUsd"`
	APY             *float64 `json:"apy,omitempty"`
}

// UpdateValuation marks a position to market.
// POST /api/ledger/valuations
func (h *PositionHandler) UpdateValuation(w http.ResponseWriter, r *http.Request) {
	var req valuationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserAddress == "" || req.Asset == "" || req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "userAddress, asset and providerId are required")
		return
	}
	apy := -1.0
	if req.APY != nil {
		apy = *req.APY
	}

	p, err := h.svc.UpdateValuation(r.Context(), req.UserAddress, req.Asset, req.ProviderID, req.CurrentValueUSD, apy)
	if err != nil {
		writeServiceError(w, r, h.logger, "update valuation", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
