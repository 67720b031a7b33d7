package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role identifies a named permission. Values follow the keccak256(name)
// convention used by on-chain access control, with the admin role at zero.
type Role = common.Hash

var (
	// RoleAdmin may grant and revoke every other role.
	RoleAdmin Role = common.Hash{}
	// RoleManager may register strategies, change weights and rebalance.
	RoleManager Role = crypto.Keccak256Hash([]byte("MANAGER_ROLE"))
)

// RoleName returns a readable label for the well-known roles.
func RoleName(role Role) string {
	switch role {
	case RoleAdmin:
		return "admin"
	case RoleManager:
		return "manager"
	default:
		return role.Hex()
	}
}

// ParseRole resolves a readable role label or a 0x-prefixed hash.
func ParseRole(name string) (Role, bool) {
	switch name {
	case "admin", "DEFAULT_ADMIN_ROLE":
		return RoleAdmin, true
	case "manager", "MANAGER_ROLE":
		return RoleManager, true
	}
	if len(name) == 66 && (name[:2] == "0x" || name[:2] == "0X") {
		return common.HexToHash(name), true
	}
	return Role{}, false
}

// StrategyDescriptor is the registry entry for a strategy. Entries are
// appended and never removed so request references stay valid.
type StrategyDescriptor struct {
	// ID is the stable registration index.
	ID uint64
	// Address identifies the strategy collaborator bound to this entry.
	Address common.Address
	// AllocationBps is the target weight in basis points.
	AllocationBps uint64
	// Active excludes the strategy from routing when false.
	Active bool
	// HasLockup is captured at registration and never changes.
	HasLockup bool
}

// Clone returns a copy of the descriptor.
func (d *StrategyDescriptor) Clone() *StrategyDescriptor {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// WithdrawalRequest reserves a fixed asset amount against a strategy that
// could not release it instantly.
type WithdrawalRequest struct {
	RequestID         uint64
	StrategyID        uint64
	StrategyRequestID uint64
	Amount            *big.Int
	Receiver          common.Address
	Claimed           bool
	CreatedAt         uint64
}

// Clone returns a deep copy of the request.
func (r *WithdrawalRequest) Clone() *WithdrawalRequest {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return &clone
}

// StrategyInfo is the read model returned by StrategyInfo.
type StrategyInfo struct {
	ID            uint64
	Address       common.Address
	AllocationBps uint64
	Active        bool
	HasLockup     bool
	TotalAssets   *big.Int
	Withdrawable  *big.Int
}

// PendingWithdrawalInfo is the read model for a queued withdrawal.
type PendingWithdrawalInfo struct {
	RequestID         uint64
	Strategy          common.Address
	StrategyID        uint64
	StrategyRequestID uint64
	Amount            *big.Int
	Receiver          common.Address
	Claimed           bool
	Claimable         bool
	CreatedAt         uint64
}

// AllocationUpdate is one entry of a batch weight change.
type AllocationUpdate struct {
	StrategyID    uint64
	AllocationBps uint64
}

// WithdrawalResult summarises how a withdraw or redeem was settled.
type WithdrawalResult struct {
	// Shares burned from the owner.
	Shares *big.Int
	// Assets owed for the burned shares.
	Assets *big.Int
	// Instant is the portion paid to the receiver synchronously.
	Instant *big.Int
	// Queued is the portion represented by new withdrawal requests.
	Queued *big.Int
	// Requests lists the new per-owner request identifiers.
	Requests []uint64
}

// StrategyMove records a rebalance transfer for one strategy. Positive
// amounts were deposited, negative amounts were pulled out.
type StrategyMove struct {
	StrategyID uint64
	Target     *big.Int
	Before     *big.Int
	Delta      *big.Int
}

// RebalanceResult summarises a rebalance pass.
type RebalanceResult struct {
	TotalAssets *big.Int
	Moves       []StrategyMove
}

// Snapshot captures the headline vault figures at a point in time.
type Snapshot struct {
	TotalAssets   *big.Int
	TotalSupply   *big.Int
	IdleBalance   *big.Int
	StrategyCount uint64
	Paused        bool
}
