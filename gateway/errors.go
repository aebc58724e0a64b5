package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"sharepool/native/pool"
	"sharepool/venue"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusForError maps ledger, coordinator, and venue failures onto stable
// machine codes and HTTP statuses.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, pool.ErrZeroAmount):
		return http.StatusBadRequest, "zero_amount"
	case errors.Is(err, pool.ErrEmptyAccount):
		return http.StatusBadRequest, "invalid_account"
	case errors.Is(err, pool.ErrValueOutOfRange):
		return http.StatusBadRequest, "value_out_of_range"
	case errors.Is(err, pool.ErrNoPosition):
		return http.StatusNotFound, "no_position"
	case errors.Is(err, pool.ErrInsufficientShares):
		return http.StatusConflict, "insufficient_shares"
	case errors.Is(err, pool.ErrDrainedPool):
		return http.StatusConflict, "pool_drained"
	case errors.Is(err, pool.ErrBalanceRegression):
		return http.StatusBadGateway, "venue_inconsistent"
	case errors.Is(err, venue.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "venue_timeout"
	case errors.Is(err, venue.ErrUnavailable):
		return http.StatusBadGateway, "venue_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
