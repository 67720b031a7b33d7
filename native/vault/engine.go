package vault

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
	nativecommon "multivault/native/common"
)

const moduleName = "vault"

// Strategy is the capability the vault consumes from a downstream yield
// source. Amounts are denominated in the vault asset.
type Strategy interface {
	Address() common.Address
	// TotalAssets reports the value currently attributable to the vault.
	TotalAssets() *big.Int
	HasLockup() bool
	// Withdrawable reports how much Withdraw can release right now.
	Withdrawable() *big.Int
	// Deposit accounts for capital the vault already transferred to the
	// strategy address.
	Deposit(amount *big.Int) error
	// Withdraw releases up to amount to the vault and returns what was paid.
	Withdraw(amount *big.Int) (*big.Int, error)
	// RequestWithdrawal reserves a locked amount and returns the strategy's ticket.
	RequestWithdrawal(owner common.Address, amount *big.Int) (uint64, error)
	// PendingWithdrawal reports the releasable amount for a ticket, zero while locked.
	PendingWithdrawal(owner common.Address, requestID uint64) *big.Int
	// ClaimWithdrawal releases an unlocked ticket to owner.
	ClaimWithdrawal(owner common.Address, requestID uint64) (*big.Int, error)
	// CancelWithdrawal voids an unclaimed ticket and returns its amount to
	// the strategy's holdings.
	CancelWithdrawal(owner common.Address, requestID uint64) error
}

// Asset is the fungible token the vault accepts. Transfers either apply in
// full or fail.
type Asset interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

type engineState interface {
	GetTotalShares() (*big.Int, error)
	PutTotalShares(total *big.Int) error
	GetShareBalance(owner common.Address) (*big.Int, error)
	PutShareBalance(owner common.Address, balance *big.Int) error
	GetShareAllowance(owner, spender common.Address) (*big.Int, error)
	PutShareAllowance(owner, spender common.Address, amount *big.Int) error
	GetStrategyCount() (uint64, error)
	PutStrategyCount(count uint64) error
	GetStrategy(id uint64) (*StrategyDescriptor, error)
	PutStrategy(desc *StrategyDescriptor) error
	DeleteStrategy(id uint64) error
	GetWithdrawalCount(owner common.Address) (uint64, error)
	PutWithdrawalCount(owner common.Address, count uint64) error
	GetWithdrawalRequest(owner common.Address, id uint64) (*WithdrawalRequest, error)
	PutWithdrawalRequest(owner common.Address, req *WithdrawalRequest) error
	DeleteWithdrawalRequest(owner common.Address, id uint64) error
	GetPaused() (bool, error)
	PutPaused(paused bool) error
}

// Engine implements the vault accounting and withdrawal-queue state machine.
//
// Mutating operations are expected to be serialized by the host; the engine
// itself only fails fast with ErrReentrancyDetected when a collaborator calls
// back into a mutation that is still running. Ledger writes of an operation
// are staged and committed before any collaborator is invoked, and reverted
// if a collaborator call fails. Read-only queries take no engine lock.
type Engine struct {
	state   engineState
	asset   Asset
	address common.Address
	roles   *Roles

	bindMu   sync.RWMutex
	bindings map[common.Address]Strategy

	guard    nativecommon.ReentrancyGuard
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	logger   *slog.Logger
	now      func() time.Time
	onCommit func(op string)

	depositCap *big.Int
}

// NewEngine constructs a vault engine holding funds at vaultAddr and
// authorizing privileged calls against roles.
func NewEngine(vaultAddr common.Address, asset Asset, roles *Roles) *Engine {
	if roles == nil {
		roles = NewRoles(common.Address{})
	}
	return &Engine{
		asset:    asset,
		address:  vaultAddr,
		roles:    roles,
		bindings: make(map[common.Address]Strategy),
		emitter:  events.NoopEmitter{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures where vault events are published.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With("module", moduleName)
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source used to stamp withdrawal requests.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// SetCommitHook registers a callback invoked after every successful mutation.
func (e *Engine) SetCommitHook(fn func(op string)) {
	if e == nil {
		return
	}
	e.onCommit = fn
}

// SetDepositCap bounds total assets accepted through Deposit. Nil or zero
// removes the cap.
func (e *Engine) SetDepositCap(limit *big.Int) {
	if e == nil {
		return
	}
	if limit == nil || limit.Sign() <= 0 {
		e.depositCap = nil
		return
	}
	e.depositCap = new(big.Int).Set(limit)
}

// Address returns the account that holds the vault's idle balance.
func (e *Engine) Address() common.Address { return e.address }

// Roles exposes the authorization table.
func (e *Engine) Roles() *Roles { return e.roles }

// effect runs after the staged ledger writes are committed.
type effect func() error

func (e *Engine) mutate(op string, fn func(tx *stateTx) (effect, error)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.asset == nil {
		return errNilAsset
	}
	release, err := e.guard.Enter()
	if err != nil {
		e.logger.Warn("reentrant vault call rejected", "op", op)
		return ErrReentrancyDetected
	}
	defer release()

	tx := newStateTx(e.state)
	run, err := fn(tx)
	if err != nil {
		e.logger.Debug("vault operation rejected", "op", op, "error", err)
		return err
	}
	undo, err := tx.commit()
	if err != nil {
		return fmt.Errorf("vault: commit %s: %w", op, err)
	}
	if run != nil {
		if err := run(); err != nil {
			if undoErr := undo(); undoErr != nil {
				e.logger.Error("vault rollback failed", "op", op, "error", err, "rollback_error", undoErr)
				return errors.Join(err, undoErr)
			}
			e.logger.Warn("vault operation reverted", "op", op, "error", err)
			return err
		}
	}
	for _, ev := range tx.events {
		e.emitter.Emit(ev)
	}
	if e.onCommit != nil {
		e.onCommit(op)
	}
	return nil
}

func (e *Engine) guardPaused(st engineState) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	paused, err := st.GetPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrVaultPaused
	}
	return nil
}

func (e *Engine) bind(strategy Strategy) {
	e.bindMu.Lock()
	defer e.bindMu.Unlock()
	e.bindings[strategy.Address()] = strategy
}

func (e *Engine) binding(addr common.Address) (Strategy, error) {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()
	strategy, ok := e.bindings[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotBound, addr.Hex())
	}
	return strategy, nil
}

func (e *Engine) timestamp() uint64 {
	ts := e.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
