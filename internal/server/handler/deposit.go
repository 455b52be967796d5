package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// DepositService defines what the deposit handler needs.
type DepositService interface {
	CreateDepositPlan(ctx context.Context, user, asset string, amount float64, profile domain.RiskProfile) (domain.DepositPlan, error)
}

// DepositHandler serves deposit planning.
type DepositHandler struct {
	svc    DepositService
	logger *slog.Logger
}

// NewDepositHandler creates a DepositHandler.
func NewDepositHandler(svc DepositService, logger *slog.Logger) *DepositHandler {
	return &DepositHandler{svc: svc, logger: logger}
}

type depositPlanRequest struct {
	UserAddress string  `json:"userAddress"`
	Asset       string  `json:"asset"`
	Amount      float64 `json:"amount"`
	RiskProfile string  `json:"riskProfile"`
}

// CreatePlan allocates a deposit and returns the unsigned instruction.
// POST /api/deposits/plan
func (h *DepositHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req depositPlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserAddress == "" || req.Asset == "" {
		writeError(w, http.StatusBadRequest, "userAddress and asset are required")
		return
	}
	if req.RiskProfile == "" {
		req.RiskProfile = string(domain.RiskModerate)
	}
	profile, err := domain.ParseRiskProfile(req.RiskProfile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "riskProfile must be conservative, moderate or aggressive")
		return
	}

	plan, err := h.svc.CreateDepositPlan(r.Context(), req.UserAddress, req.Asset, req.Amount, profile)
	if err != nil {
		writeServiceError(w, r, h.logger, "create deposit plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}
