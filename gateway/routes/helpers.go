package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"vbmsd/native/claim"
	"vbmsd/native/ledger"
	"vbmsd/observability"
)

type errorBody struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	RemainingSeconds int64  `json:"remainingSeconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the claim/ledger error taxonomy onto HTTP statuses and a
// stable machine-readable code.
func writeError(w http.ResponseWriter, err error) {
	var (
		cooldown     *claim.CooldownError
		tooSoon      *claim.TooSoonError
		minimum      *claim.MinimumError
		insufficient *claim.InsufficientError
	)
	switch {
	case errors.As(err, &cooldown):
		observability.Claims().RecordRejection("cooldown")
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:            err.Error(),
			Code:             "cooldown",
			RemainingSeconds: int64(cooldown.Remaining.Seconds()),
		})
	case errors.As(err, &tooSoon):
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:            err.Error(),
			Code:             "recovery_too_soon",
			RemainingSeconds: int64(tooSoon.Remaining.Seconds()),
		})
	case errors.As(err, &minimum):
		observability.Claims().RecordRejection("minimum")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "below_minimum"})
	case errors.As(err, &insufficient):
		observability.Claims().RecordRejection("insufficient")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "insufficient_balance"})
	case errors.Is(err, claim.ErrBlacklisted):
		observability.Claims().RecordRejection("denied")
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "denied"})
	case errors.Is(err, claim.ErrIdentityRequired):
		observability.Claims().RecordRejection("identity")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "identity_required"})
	case errors.Is(err, claim.ErrIdentityMismatch):
		observability.Claims().RecordRejection("identity")
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "identity_mismatch"})
	case errors.Is(err, claim.ErrConversionPending):
		observability.Claims().RecordRejection("pending")
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conversion_pending"})
	case errors.Is(err, claim.ErrDuplicateTransaction):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "duplicate_transaction"})
	case errors.Is(err, claim.ErrBlockedAlreadyClaimed):
		observability.Claims().RecordBlocked()
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "already_claimed"})
	case errors.Is(err, claim.ErrNothingPending):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "nothing_pending"})
	case errors.Is(err, claim.ErrDailyLimitReached):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error(), Code: "daily_limit"})
	case errors.Is(err, claim.ErrSigningFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Code: "signing_failed"})
	case errors.Is(err, claim.ErrSigningFailedManual):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Code: "signing_failed_manual"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "insufficient_balance"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_amount"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Code: "bad_request"})
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	return ledger.DecodeAddress(value)
}

// parseAmount decodes an optional decimal amount string; empty means nil.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive decimal string")
	}
	return amount, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
