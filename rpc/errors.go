package rpc

import (
	"errors"
	"net/http"

	"zkusd/native/admin"
	nativecommon "zkusd/native/common"
	"zkusd/native/engine"
	"zkusd/native/oracle"
	"zkusd/native/token"
	"zkusd/native/vault"
	"zkusd/state"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps module sentinel errors onto HTTP statuses. Anything
// unrecognized is treated as an internal failure and logged without leaking
// detail to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrVaultNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrVaultExists),
		errors.Is(err, oracle.ErrPendingActionExists),
		errors.Is(err, state.ErrStaleRead):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrEmergencyHalt):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrMissingSignature),
		errors.Is(err, admin.ErrMissingSignature),
		errors.Is(err, oracle.ErrMissingSignature),
		errors.Is(err, oracle.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, admin.ErrInvalidSigner),
		errors.Is(err, vault.ErrOwnerMismatch),
		errors.Is(err, oracle.ErrSenderNotWhitelisted),
		errors.Is(err, token.ErrUnauthorizedMint),
		errors.Is(err, token.ErrUnauthorizedBurn),
		errors.Is(err, engine.ErrInteractionFlag):
		return http.StatusForbidden
	case errors.Is(err, ErrNonceMismatch),
		errors.Is(err, admin.ErrNonceMismatch),
		errors.Is(err, admin.ErrMethodMismatch),
		errors.Is(err, vault.ErrAmountZero),
		errors.Is(err, vault.ErrAmountExceedsDebt),
		errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrHealthFactorTooLow),
		errors.Is(err, vault.ErrHealthFactorTooHigh),
		errors.Is(err, vault.ErrOverflow),
		errors.Is(err, oracle.ErrAmountZero),
		errors.Is(err, oracle.ErrInvalidWhitelist),
		errors.Is(err, oracle.ErrPendingQueueFull),
		errors.Is(err, oracle.ErrWhitelistFull),
		errors.Is(err, oracle.ErrFundsOverflow),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrSupplyOverflow),
		errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "error", err)
		s.writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
