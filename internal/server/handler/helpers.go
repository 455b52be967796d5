package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type insufficientBalanceResponse struct {
	Error           string  `json:"error"`
	AvailableAmount float64 `json:"availableAmount"`
	RequestedAmount float64 `json:"requestedAmount"`
}

// writeServiceError maps a service error to a status code. Unexpected errors
// are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var ib *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &ib):
		writeJSON(w, http.StatusUnprocessableEntity, insufficientBalanceResponse{
			Error:           "insufficient balance",
			AvailableAmount: ib.Available,
			RequestedAmount: ib.Requested,
		})
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRiskProfile),
		errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoOpportunity):
		writeError(w, http.StatusUnprocessableEntity, "no yield opportunity available")
	case errors.Is(err, domain.ErrNoPathAvailable):
		writeError(w, http.StatusUnprocessableEntity, "no withdraw path satisfies the preferences")
	case errors.Is(err, domain.ErrLedgerConflict):
		writeError(w, http.StatusConflict, "concurrent ledger update, retry")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already applied")
	case errors.Is(err, domain.ErrPlanningDeadline):
		writeError(w, http.StatusGatewayTimeout, "planning deadline exceeded")
	case errors.Is(err, domain.ErrProviderUnavailable):
		logger.WarnContext(r.Context(), "handler: provider unavailable",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "provider unavailable")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseAmount reads a positive float query parameter.
func parseAmount(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, fmt.Errorf("%s query parameter required", name)
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number", name)
	}
	return n, nil
}

// parseListOpts extracts pagination and time-range parameters from the query
// string. Defaults: limit=50 (max 500), offset=0. since and until are RFC3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s must be RFC3339", name)
		}
		*dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter using the ServeMux pattern.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
