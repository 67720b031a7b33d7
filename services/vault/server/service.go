package server

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"multivault/native/bank"
	"multivault/native/strategy"
	"multivault/native/vault"
	"multivault/observability/metrics"
	vaultstate "multivault/state/vault"
)

// Service hosts a single vault engine together with the mock asset ledger and
// strategies it settles against. Mutations are serialised; reads share the
// lock so they never observe a half-applied operation.
type Service struct {
	mu sync.RWMutex

	engine  *vault.Engine
	token   *bank.Token
	store   *vaultstate.Store
	metrics *metrics.VaultMetrics
	logger  *slog.Logger

	mocks   map[common.Address]*strategy.Mock
	lockups map[common.Address]time.Duration
	order   []common.Address

	faucetEnabled bool
	faucetLimit   *big.Int
	now           func() time.Time
}

// Account is the per-owner read model.
type Account struct {
	Address        common.Address
	Shares         *big.Int
	Assets         *big.Int
	MaxWithdraw    *big.Int
	MaxRedeem      *big.Int
	AssetBalance   *big.Int
	AssetAllowance *big.Int
	Withdrawals    []*vault.PendingWithdrawalInfo
}

// Summary is the vault-wide read model.
type Summary struct {
	*vault.Snapshot
	Address    common.Address
	Symbol     string
	Decimals   uint8
	SharePrice *big.Int
	Liquidity  *big.Int
	MaxDeposit *big.Int
}

// NewStrategy describes a strategy registered at runtime.
type NewStrategy struct {
	Address       common.Address
	AllocationBps uint64
	Lockup        time.Duration
	YieldBps      uint64
}

// Preview operations.
const (
	PreviewDeposit  = "deposit"
	PreviewWithdraw = "withdraw"
	PreviewRedeem   = "redeem"
)

func (s *Service) write(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn()
	s.metrics.ObserveOperation(op, err)
	if err != nil {
		s.logger.Debug("vault operation rejected", slog.String("op", op), slog.Any("error", err))
		return err
	}
	s.observe()
	return nil
}

func (s *Service) read(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// Deposit pulls assets from caller and mints shares to receiver.
func (s *Service) Deposit(ctx context.Context, caller, receiver common.Address, assets *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := s.write(ctx, "deposit", func() error {
		var err error
		shares, err = s.engine.Deposit(caller, receiver, assets)
		return err
	})
	return shares, err
}

// Withdraw burns owner's shares for exactly assets.
func (s *Service) Withdraw(ctx context.Context, caller, receiver, owner common.Address, assets *big.Int) (*vault.WithdrawalResult, error) {
	var res *vault.WithdrawalResult
	err := s.write(ctx, "withdraw", func() error {
		var err error
		res, err = s.engine.Withdraw(caller, receiver, owner, assets)
		return err
	})
	return res, err
}

// Redeem burns exactly shares from owner.
func (s *Service) Redeem(ctx context.Context, caller, receiver, owner common.Address, shares *big.Int) (*vault.WithdrawalResult, error) {
	var res *vault.WithdrawalResult
	err := s.write(ctx, "redeem", func() error {
		var err error
		res, err = s.engine.Redeem(caller, receiver, owner, shares)
		return err
	})
	return res, err
}

// Claim settles caller's queued request.
func (s *Service) Claim(ctx context.Context, caller common.Address, requestID uint64) (*big.Int, error) {
	var paid *big.Int
	err := s.write(ctx, "claim", func() error {
		var err error
		paid, err = s.engine.ClaimWithdrawal(caller, requestID)
		return err
	})
	return paid, err
}

// Approve sets spender's share allowance over owner's shares.
func (s *Service) Approve(ctx context.Context, owner, spender common.Address, shares *big.Int) error {
	return s.write(ctx, "approve", func() error {
		return s.engine.Approve(owner, spender, shares)
	})
}

// AddStrategy deploys a mock strategy at the requested address and registers it.
func (s *Service) AddStrategy(ctx context.Context, caller common.Address, req NewStrategy) (uint64, error) {
	var id uint64
	err := s.write(ctx, "add_strategy", func() error {
		if _, exists := s.mocks[req.Address]; exists {
			return vault.ErrStrategyExists
		}
		if req.Lockup < 0 {
			return ErrInvalidRequest
		}
		mock := s.newMock(req.Address, req.Lockup)
		if req.YieldBps > 0 {
			if err := mock.SetYieldMultiplier(strategy.MultiplierFromBps(req.YieldBps)); err != nil {
				s.dropMock(req.Address)
				return err
			}
		}
		var err error
		id, err = s.engine.AddStrategy(caller, mock, req.AllocationBps)
		if err != nil {
			s.dropMock(req.Address)
		}
		return err
	})
	return id, err
}

func (s *Service) dropMock(addr common.Address) {
	delete(s.mocks, addr)
	delete(s.lockups, addr)
	for i, a := range s.order {
		if a == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// UpdateAllocation replaces one strategy's target weight.
func (s *Service) UpdateAllocation(ctx context.Context, caller common.Address, id, bps uint64) error {
	return s.write(ctx, "update_allocation", func() error {
		return s.engine.UpdateAllocation(caller, id, bps)
	})
}

// SetAllocations applies a batch of weight changes atomically.
func (s *Service) SetAllocations(ctx context.Context, caller common.Address, updates []vault.AllocationUpdate) error {
	return s.write(ctx, "set_allocations", func() error {
		return s.engine.SetAllocations(caller, updates)
	})
}

// SetStrategyActive activates or deactivates a strategy.
func (s *Service) SetStrategyActive(ctx context.Context, caller common.Address, id uint64, active bool) error {
	op := "deactivate_strategy"
	if active {
		op = "activate_strategy"
	}
	return s.write(ctx, op, func() error {
		if active {
			return s.engine.ActivateStrategy(caller, id)
		}
		return s.engine.DeactivateStrategy(caller, id)
	})
}

// Rebalance moves capital toward the target weights.
func (s *Service) Rebalance(ctx context.Context, caller common.Address) (*vault.RebalanceResult, error) {
	var res *vault.RebalanceResult
	err := s.write(ctx, "rebalance", func() error {
		var err error
		res, err = s.engine.Rebalance(caller)
		return err
	})
	return res, err
}

// SetRole grants or revokes role for account.
func (s *Service) SetRole(ctx context.Context, caller common.Address, role vault.Role, account common.Address, grant bool) error {
	op := "revoke_role"
	if grant {
		op = "grant_role"
	}
	return s.write(ctx, op, func() error {
		if grant {
			return s.engine.GrantRole(caller, role, account)
		}
		return s.engine.RevokeRole(caller, role, account)
	})
}

// SetPaused flips the pause switch.
func (s *Service) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	op := "unpause"
	if paused {
		op = "pause"
	}
	return s.write(ctx, op, func() error {
		if paused {
			return s.engine.Pause(caller)
		}
		return s.engine.Unpause(caller)
	})
}

// SetStrategyYield changes a mock strategy's yield multiplier. yieldBps is the
// appreciation over principal: 1000 values the holdings at 110%, zero
// removes any yield. Managers only.
func (s *Service) SetStrategyYield(ctx context.Context, caller common.Address, id, yieldBps uint64) error {
	return s.write(ctx, "set_yield", func() error {
		if !s.engine.HasRole(vault.RoleManager, caller) {
			return vault.ErrUnauthorized
		}
		info, err := s.engine.StrategyInfo(id)
		if err != nil {
			return err
		}
		mock, ok := s.mocks[info.Address]
		if !ok {
			return vault.ErrStrategyNotBound
		}
		if err := mock.SetYieldMultiplier(strategy.MultiplierFromBps(yieldBps)); err != nil {
			return err
		}
		return s.persist()
	})
}

// Faucet mints test assets to account.
func (s *Service) Faucet(ctx context.Context, account common.Address, amount *big.Int) error {
	return s.write(ctx, "faucet", func() error {
		if !s.faucetEnabled {
			return ErrFaucetDisabled
		}
		if amount == nil || amount.Sign() <= 0 {
			return vault.ErrZeroAmount
		}
		if s.faucetLimit != nil && amount.Cmp(s.faucetLimit) > 0 {
			return ErrFaucetLimit
		}
		if err := s.token.Mint(account, amount); err != nil {
			return err
		}
		return s.persist()
	})
}

// ApproveAsset sets the vault's allowance over owner's assets.
func (s *Service) ApproveAsset(ctx context.Context, owner common.Address, amount *big.Int) error {
	return s.write(ctx, "approve_asset", func() error {
		if amount == nil || amount.Sign() < 0 {
			return ErrInvalidRequest
		}
		if err := s.token.Approve(owner, s.engine.Address(), amount); err != nil {
			return err
		}
		return s.persist()
	})
}

// Summary returns the headline vault figures.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var out *Summary
	err := s.read(ctx, func() error {
		snap, err := s.engine.Snapshot()
		if err != nil {
			return err
		}
		one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.token.Decimals())), nil)
		price, err := s.engine.ConvertToAssets(one)
		if err != nil {
			return err
		}
		liquidity, err := s.engine.InstantLiquidity()
		if err != nil {
			return err
		}
		maxDeposit, err := s.engine.MaxDeposit()
		if err != nil {
			return err
		}
		out = &Summary{
			Snapshot:   snap,
			Address:    s.engine.Address(),
			Symbol:     s.token.Symbol(),
			Decimals:   s.token.Decimals(),
			SharePrice: price,
			Liquidity:  liquidity,
			MaxDeposit: maxDeposit,
		}
		return nil
	})
	return out, err
}

// Strategies lists the registry with live balances.
func (s *Service) Strategies(ctx context.Context) ([]*vault.StrategyInfo, error) {
	var out []*vault.StrategyInfo
	err := s.read(ctx, func() error {
		var err error
		out, err = s.engine.Strategies()
		return err
	})
	return out, err
}

// Strategy returns one registry entry.
func (s *Service) Strategy(ctx context.Context, id uint64) (*vault.StrategyInfo, error) {
	var out *vault.StrategyInfo
	err := s.read(ctx, func() error {
		var err error
		out, err = s.engine.StrategyInfo(id)
		return err
	})
	return out, err
}

// Account returns owner's position and pending withdrawals.
func (s *Service) Account(ctx context.Context, owner common.Address) (*Account, error) {
	var out *Account
	err := s.read(ctx, func() error {
		shares, err := s.engine.BalanceOf(owner)
		if err != nil {
			return err
		}
		assets, err := s.engine.ConvertToAssets(shares)
		if err != nil {
			return err
		}
		maxWithdraw, err := s.engine.MaxWithdraw(owner)
		if err != nil {
			return err
		}
		maxRedeem, err := s.engine.MaxRedeem(owner)
		if err != nil {
			return err
		}
		pending, err := s.engine.PendingWithdrawals(owner)
		if err != nil {
			return err
		}
		out = &Account{
			Address:        owner,
			Shares:         shares,
			Assets:         assets,
			MaxWithdraw:    maxWithdraw,
			MaxRedeem:      maxRedeem,
			AssetBalance:   s.token.BalanceOf(owner),
			AssetAllowance: s.token.Allowance(owner, s.engine.Address()),
			Withdrawals:    pending,
		}
		return nil
	})
	return out, err
}

// Withdrawal returns one of owner's requests, claimed or not.
func (s *Service) Withdrawal(ctx context.Context, owner common.Address, id uint64) (*vault.PendingWithdrawalInfo, error) {
	var out *vault.PendingWithdrawalInfo
	err := s.read(ctx, func() error {
		var err error
		out, err = s.engine.PendingWithdrawalInfo(owner, id)
		return err
	})
	return out, err
}

// Allowance returns spender's share allowance over owner.
func (s *Service) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	err := s.read(ctx, func() error {
		var err error
		out, err = s.engine.Allowance(owner, spender)
		return err
	})
	return out, err
}

// AssetBalance returns account's balance of the underlying asset.
func (s *Service) AssetBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var out *big.Int
	err := s.read(ctx, func() error {
		out = cloneAmount(s.token.BalanceOf(account))
		return nil
	})
	return out, err
}

// Preview quotes op for amount at the current exchange rate.
func (s *Service) Preview(ctx context.Context, op string, amount *big.Int) (*big.Int, error) {
	var out *big.Int
	err := s.read(ctx, func() error {
		var err error
		switch op {
		case PreviewDeposit:
			out, err = s.engine.PreviewDeposit(amount)
		case PreviewWithdraw:
			out, err = s.engine.PreviewWithdraw(amount)
		case PreviewRedeem:
			out, err = s.engine.PreviewRedeem(amount)
		default:
			err = ErrInvalidRequest
		}
		return err
	})
	return out, err
}

// HasRole reports whether account holds role.
func (s *Service) HasRole(role vault.Role, account common.Address) bool {
	return s.engine.HasRole(role, account)
}

// Members lists the holders of role.
func (s *Service) Members(role vault.Role) []common.Address {
	return s.engine.Roles().Members(role)
}
