package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// TransactionService defines what the transaction handler needs.
type TransactionService interface {
	TransactionHistory(ctx context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error)
}

// TransactionHandler serves transaction history.
type TransactionHandler struct {
	svc    TransactionService
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(svc TransactionService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{svc: svc, logger: logger}
}

type listTransactionsResponse struct {
	Transactions []domain.TransactionRecord `json:"transactions"`
}

// ListTransactions returns a user's transactions, newest first.
// GET /api/transactions/{user}?limit=50&offset=0&since=...&until=...
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user := pathParam(r, "user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user address")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.svc.TransactionHistory(r.Context(), user, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	if recs == nil {
		recs = []domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Transactions: recs})
}
