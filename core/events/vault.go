package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/types"
)

const (
	// TypeVaultDeposit is emitted when assets are deposited and shares minted.
	TypeVaultDeposit = "vault.deposit"
	// TypeVaultWithdraw is emitted when shares are burned for a withdrawal or redemption.
	TypeVaultWithdraw = "vault.withdraw"
	// TypeVaultWithdrawalQueued is emitted for every deferred withdrawal request.
	TypeVaultWithdrawalQueued = "vault.withdrawalQueued"
	// TypeVaultWithdrawalClaimed is emitted when a queued request is paid out.
	TypeVaultWithdrawalClaimed = "vault.withdrawalClaimed"
	// TypeVaultRebalanced is emitted after a rebalance pass.
	TypeVaultRebalanced = "vault.rebalanced"
	// TypeVaultStrategyAdded is emitted when a strategy is registered.
	TypeVaultStrategyAdded = "vault.strategyAdded"
	// TypeVaultAllocationUpdated is emitted for each changed target weight.
	TypeVaultAllocationUpdated = "vault.allocationUpdated"
	// TypeVaultStrategyStatus is emitted when a strategy is activated or deactivated.
	TypeVaultStrategyStatus = "vault.strategyStatus"
	// TypeVaultRoleChanged is emitted when a role is granted or revoked.
	TypeVaultRoleChanged = "vault.roleChanged"
	// TypeVaultPaused is emitted when the pause switch flips.
	TypeVaultPaused = "vault.paused"
)

// VaultDeposit captures a deposit.
type VaultDeposit struct {
	Caller   common.Address
	Receiver common.Address
	Assets   *big.Int
	Shares   *big.Int
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *types.Event {
	return &types.Event{Type: TypeVaultDeposit, Attributes: map[string]string{
		"caller":   e.Caller.Hex(),
		"receiver": e.Receiver.Hex(),
		"assets":   formatAmount(e.Assets),
		"shares":   formatAmount(e.Shares),
	}}
}

// VaultWithdraw captures the share burn and the instant/queued split.
type VaultWithdraw struct {
	Caller   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *big.Int
	Shares   *big.Int
	Instant  *big.Int
	Queued   *big.Int
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeVaultWithdraw, Attributes: map[string]string{
		"caller":   e.Caller.Hex(),
		"receiver": e.Receiver.Hex(),
		"owner":    e.Owner.Hex(),
		"assets":   formatAmount(e.Assets),
		"shares":   formatAmount(e.Shares),
		"instant":  formatAmount(e.Instant),
		"queued":   formatAmount(e.Queued),
	}}
}

// VaultWithdrawalQueued captures a new deferred request.
type VaultWithdrawalQueued struct {
	Owner             common.Address
	Receiver          common.Address
	RequestID         uint64
	StrategyID        uint64
	Strategy          common.Address
	StrategyRequestID uint64
	Amount            *big.Int
}

func (VaultWithdrawalQueued) EventType() string { return TypeVaultWithdrawalQueued }

func (e VaultWithdrawalQueued) Event() *types.Event {
	return &types.Event{Type: TypeVaultWithdrawalQueued, Attributes: map[string]string{
		"owner":             e.Owner.Hex(),
		"receiver":          e.Receiver.Hex(),
		"requestId":         strconv.FormatUint(e.RequestID, 10),
		"strategyId":        strconv.FormatUint(e.StrategyID, 10),
		"strategy":          e.Strategy.Hex(),
		"strategyRequestId": strconv.FormatUint(e.StrategyRequestID, 10),
		"amount":            formatAmount(e.Amount),
	}}
}

// VaultWithdrawalClaimed captures a settled request.
type VaultWithdrawalClaimed struct {
	Owner     common.Address
	Receiver  common.Address
	RequestID uint64
	Amount    *big.Int
}

func (VaultWithdrawalClaimed) EventType() string { return TypeVaultWithdrawalClaimed }

func (e VaultWithdrawalClaimed) Event() *types.Event {
	return &types.Event{Type: TypeVaultWithdrawalClaimed, Attributes: map[string]string{
		"owner":     e.Owner.Hex(),
		"receiver":  e.Receiver.Hex(),
		"requestId": strconv.FormatUint(e.RequestID, 10),
		"amount":    formatAmount(e.Amount),
	}}
}

// VaultRebalanced captures the totals after a rebalance.
type VaultRebalanced struct {
	Caller      common.Address
	TotalAssets *big.Int
	Moved       *big.Int
	Moves       int
}

func (VaultRebalanced) EventType() string { return TypeVaultRebalanced }

func (e VaultRebalanced) Event() *types.Event {
	return &types.Event{Type: TypeVaultRebalanced, Attributes: map[string]string{
		"caller":      e.Caller.Hex(),
		"totalAssets": formatAmount(e.TotalAssets),
		"moved":       formatAmount(e.Moved),
		"moves":       strconv.Itoa(e.Moves),
	}}
}

// VaultStrategyAdded captures a registration.
type VaultStrategyAdded struct {
	StrategyID    uint64
	Strategy      common.Address
	AllocationBps uint64
	HasLockup     bool
}

func (VaultStrategyAdded) EventType() string { return TypeVaultStrategyAdded }

func (e VaultStrategyAdded) Event() *types.Event {
	return &types.Event{Type: TypeVaultStrategyAdded, Attributes: map[string]string{
		"strategyId":    strconv.FormatUint(e.StrategyID, 10),
		"strategy":      e.Strategy.Hex(),
		"allocationBps": strconv.FormatUint(e.AllocationBps, 10),
		"hasLockup":     strconv.FormatBool(e.HasLockup),
	}}
}

// VaultAllocationUpdated captures a weight change.
type VaultAllocationUpdated struct {
	StrategyID uint64
	OldBps     uint64
	NewBps     uint64
}

func (VaultAllocationUpdated) EventType() string { return TypeVaultAllocationUpdated }

func (e VaultAllocationUpdated) Event() *types.Event {
	return &types.Event{Type: TypeVaultAllocationUpdated, Attributes: map[string]string{
		"strategyId": strconv.FormatUint(e.StrategyID, 10),
		"oldBps":     strconv.FormatUint(e.OldBps, 10),
		"newBps":     strconv.FormatUint(e.NewBps, 10),
	}}
}

// VaultStrategyStatus captures an activation toggle.
type VaultStrategyStatus struct {
	StrategyID uint64
	Active     bool
}

func (VaultStrategyStatus) EventType() string { return TypeVaultStrategyStatus }

func (e VaultStrategyStatus) Event() *types.Event {
	return &types.Event{Type: TypeVaultStrategyStatus, Attributes: map[string]string{
		"strategyId": strconv.FormatUint(e.StrategyID, 10),
		"active":     strconv.FormatBool(e.Active),
	}}
}

// VaultRoleChanged captures a role grant or revocation.
type VaultRoleChanged struct {
	Role    string
	Account common.Address
	Sender  common.Address
	Granted bool
}

func (VaultRoleChanged) EventType() string { return TypeVaultRoleChanged }

func (e VaultRoleChanged) Event() *types.Event {
	return &types.Event{Type: TypeVaultRoleChanged, Attributes: map[string]string{
		"role":    e.Role,
		"account": e.Account.Hex(),
		"sender":  e.Sender.Hex(),
		"granted": strconv.FormatBool(e.Granted),
	}}
}

// VaultPaused captures the pause switch.
type VaultPaused struct {
	Sender common.Address
	Paused bool
}

func (VaultPaused) EventType() string { return TypeVaultPaused }

func (e VaultPaused) Event() *types.Event {
	return &types.Event{Type: TypeVaultPaused, Attributes: map[string]string{
		"sender": e.Sender.Hex(),
		"paused": strconv.FormatBool(e.Paused),
	}}
}
