package vault

import (
	"errors"

	nativecommon "multivault/native/common"
)

// Input validation.
var (
	ErrZeroAmount            = errors.New("vault: amount must be positive")
	ErrZeroShares            = errors.New("vault: deposit too small to mint shares")
	ErrInvalidReceiver       = errors.New("vault: receiver must not be the zero address")
	ErrAllocationSumExceeded = errors.New("vault: active allocations exceed 10000 bps")
	ErrAllocationCapExceeded = errors.New("vault: allocation exceeds per-strategy cap")
	ErrInvalidAllocation     = errors.New("vault: invalid allocation batch")
	ErrStrategyNotFound      = errors.New("vault: strategy not found")
	ErrStrategyExists        = errors.New("vault: strategy already registered")
	ErrStrategyNotBound      = errors.New("vault: strategy collaborator not bound")
	ErrAmountOverflow        = errors.New("vault: amount exceeds 256 bits")
	ErrDepositCapExceeded    = errors.New("vault: deposit exceeds vault capacity")
)

// Authorization.
var (
	ErrUnauthorized          = errors.New("vault: caller lacks required role")
	ErrInsufficientAllowance = errors.New("vault: insufficient share allowance")
	ErrVaultPaused           = errors.New("vault: paused")
)

// Liquidity.
var (
	ErrInsufficientVaultLiquidity = errors.New("vault: insufficient liquidity to cover withdrawal")
	ErrExceedsOwnerEntitlement    = errors.New("vault: request exceeds owner entitlement")
)

// Withdrawal request lifecycle.
var (
	ErrWithdrawalRequestNotFound = errors.New("vault: withdrawal request not found")
	ErrWithdrawalAlreadyClaimed  = errors.New("vault: withdrawal already claimed")
	ErrClaimNotYetAvailable      = errors.New("vault: withdrawal not yet claimable")
)

// Integrity.
var (
	ErrReentrancyDetected = nativecommon.ErrReentrancyDetected
	ErrStrategyShortfall  = errors.New("vault: strategy released less than requested")
	ErrStrategyNotDrained = errors.New("vault: strategy still holds locked assets")
	errNilState           = errors.New("vault: state not configured")
	errNilAsset           = errors.New("vault: asset not configured")
)
