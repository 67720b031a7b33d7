package server

import (
	"context"
	"errors"
	"net/http"

	"multivault/native/bank"
	nativecommon "multivault/native/common"
	"multivault/native/strategy"
	"multivault/native/vault"
	"multivault/storage/journal"
)

var (
	ErrInvalidRequest = errors.New("server: invalid request")
	ErrFaucetDisabled = errors.New("server: faucet disabled")
	ErrFaucetLimit    = errors.New("server: faucet amount exceeds limit")
)

// Error codes returned to API clients.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodePermission      = "PERMISSION_DENIED"
	CodeConflict        = "CONFLICT"
	CodeLiquidity       = "INSUFFICIENT_LIQUIDITY"
	CodeUnavailable     = "UNAVAILABLE"
	CodeNotReady        = "NOT_READY"
	CodeInternal        = "INTERNAL"
)

type classification struct {
	status int
	code   string
}

var classes = []struct {
	err error
	classification
}{
	{ErrInvalidRequest, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrZeroAmount, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrZeroShares, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrInvalidReceiver, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrAllocationSumExceeded, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrAllocationCapExceeded, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrInvalidAllocation, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrAmountOverflow, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{vault.ErrDepositCapExceeded, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{bank.ErrInvalidAmount, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{bank.ErrZeroAddress, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{strategy.ErrInvalidMultiplier, classification{http.StatusBadRequest, CodeInvalidArgument}},
	{ErrFaucetLimit, classification{http.StatusBadRequest, CodeInvalidArgument}},

	{vault.ErrStrategyNotFound, classification{http.StatusNotFound, CodeNotFound}},
	{vault.ErrWithdrawalRequestNotFound, classification{http.StatusNotFound, CodeNotFound}},
	{ErrFaucetDisabled, classification{http.StatusNotFound, CodeNotFound}},

	{vault.ErrUnauthorized, classification{http.StatusForbidden, CodePermission}},
	{vault.ErrInsufficientAllowance, classification{http.StatusForbidden, CodePermission}},
	{bank.ErrInsufficientAllowance, classification{http.StatusForbidden, CodePermission}},

	{vault.ErrStrategyExists, classification{http.StatusConflict, CodeConflict}},
	{vault.ErrWithdrawalAlreadyClaimed, classification{http.StatusConflict, CodeConflict}},
	{vault.ErrStrategyNotDrained, classification{http.StatusConflict, CodeConflict}},
	{vault.ErrReentrancyDetected, classification{http.StatusConflict, CodeConflict}},

	{vault.ErrInsufficientVaultLiquidity, classification{http.StatusUnprocessableEntity, CodeLiquidity}},
	{vault.ErrExceedsOwnerEntitlement, classification{http.StatusUnprocessableEntity, CodeLiquidity}},
	{bank.ErrInsufficientBalance, classification{http.StatusUnprocessableEntity, CodeLiquidity}},

	{vault.ErrClaimNotYetAvailable, classification{http.StatusTooEarly, CodeNotReady}},

	{vault.ErrVaultPaused, classification{http.StatusServiceUnavailable, CodeUnavailable}},
	{nativecommon.ErrModulePaused, classification{http.StatusServiceUnavailable, CodeUnavailable}},
	{journal.ErrClosed, classification{http.StatusServiceUnavailable, CodeUnavailable}},
	{context.Canceled, classification{http.StatusServiceUnavailable, CodeUnavailable}},
	{context.DeadlineExceeded, classification{http.StatusGatewayTimeout, CodeUnavailable}},
}

// Classify maps a service error onto an HTTP status and a stable error code.
// Unknown errors are internal.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// PublicMessage returns the text safe to show a client. Internal errors are
// not echoed.
func PublicMessage(err error) string {
	if status, _ := Classify(err); status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
