package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// WithdrawService defines what the withdraw handler needs.
type WithdrawService interface {
	CreateWithdrawPlan(ctx context.Context, user, asset string, amount float64) (domain.WithdrawPlan, error)
	GetWithdrawPreview(ctx context.Context, user, asset string, amount float64) (domain.WithdrawPreview, error)
	OptimizeWithdrawPath(ctx context.Context, user, asset string, amount float64, prefs domain.WithdrawPreferences) (domain.WithdrawPreview, error)
}

// WithdrawHandler serves withdrawal planning.
type WithdrawHandler struct {
	svc    WithdrawService
	logger *slog.Logger
}

// NewWithdrawHandler creates a WithdrawHandler.
func NewWithdrawHandler(svc WithdrawService, logger *slog.Logger) *WithdrawHandler {
	return &WithdrawHandler{svc: svc, logger: logger}
}

type withdrawRequest struct {
	UserAddress string  `json:"userAddress"`
	Asset       string  `json:"asset"`
	Amount      float64 `json:"amount"`
	Priority    string  `json:"priority,omitempty"`
	MaxSlippage float64 `json:"maxSlippage,omitempty"`
}

func (req withdrawRequest) validate() string {
	if req.UserAddress == "" || req.Asset == "" {
		return "userAddress and asset are required"
	}
	return ""
}

// CreatePlan plans a withdrawal and returns one instruction per leg.
// POST /api/withdrawals/plan
func (h *WithdrawHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	plan, err := h.svc.CreateWithdrawPlan(r.Context(), req.UserAddress, req.Asset, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "create withdraw plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// Preview plans a withdrawal without recording it.
// GET /api/withdrawals/preview?user=...&asset=USDC&amount=800
func (h *WithdrawHandler) Preview(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	user, asset := q.Get("user"), q.Get("asset")
	if user == "" || asset == "" {
		writeError(w, http.StatusBadRequest, "user and asset query parameters required")
		return
	}

	preview, err := h.svc.GetWithdrawPreview(r.Context(), user, asset, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw preview", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Optimize filters the base preview by speed or fee preference.
// POST /api/withdrawals/optimize
func (h *WithdrawHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	priority, ok := domain.ParseWithdrawPriority(req.Priority)
	if !ok {
		writeError(w, http.StatusBadRequest, "priority must be speed or fees")
		return
	}
	if req.MaxSlippage < 0 || req.MaxSlippage > 1 {
		writeError(w, http.StatusBadRequest, "maxSlippage must be between 0 and 1")
		return
	}

	preview, err := h.svc.OptimizeWithdrawPath(r.Context(), req.UserAddress, req.Asset, req.Amount, domain.WithdrawPreferences{
		Priority:    priority,
		MaxSlippage: req.MaxSlippage,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "optimize withdraw path", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
