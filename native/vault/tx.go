package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type requestKey struct {
	owner common.Address
	id    uint64
}

// stateTx buffers the ledger writes of one operation. Reads fall through to
// the base state for keys the operation has not touched. Nothing reaches the
// base until commit.
type stateTx struct {
	base engineState

	totalShares      *big.Int
	balances         map[common.Address]*big.Int
	allowances       map[allowanceKey]*big.Int
	strategyCount    *uint64
	strategies       map[uint64]*StrategyDescriptor
	withdrawalCounts map[common.Address]uint64
	requests         map[requestKey]*WithdrawalRequest
	paused           *bool

	events []events.Event
}

func newStateTx(base engineState) *stateTx {
	return &stateTx{
		base:             base,
		balances:         make(map[common.Address]*big.Int),
		allowances:       make(map[allowanceKey]*big.Int),
		strategies:       make(map[uint64]*StrategyDescriptor),
		withdrawalCounts: make(map[common.Address]uint64),
		requests:         make(map[requestKey]*WithdrawalRequest),
	}
}

func (tx *stateTx) emit(ev events.Event) { tx.events = append(tx.events, ev) }

func (tx *stateTx) GetTotalShares() (*big.Int, error) {
	if tx.totalShares != nil {
		return new(big.Int).Set(tx.totalShares), nil
	}
	v, err := tx.base.GetTotalShares()
	return cloneOrZero(v), err
}

func (tx *stateTx) PutTotalShares(total *big.Int) error {
	tx.totalShares = cloneOrZero(total)
	return nil
}

func (tx *stateTx) GetShareBalance(owner common.Address) (*big.Int, error) {
	if v, ok := tx.balances[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	v, err := tx.base.GetShareBalance(owner)
	return cloneOrZero(v), err
}

func (tx *stateTx) PutShareBalance(owner common.Address, balance *big.Int) error {
	tx.balances[owner] = cloneOrZero(balance)
	return nil
}

func (tx *stateTx) GetShareAllowance(owner, spender common.Address) (*big.Int, error) {
	if v, ok := tx.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	v, err := tx.base.GetShareAllowance(owner, spender)
	return cloneOrZero(v), err
}

func (tx *stateTx) PutShareAllowance(owner, spender common.Address, amount *big.Int) error {
	tx.allowances[allowanceKey{owner, spender}] = cloneOrZero(amount)
	return nil
}

func (tx *stateTx) GetStrategyCount() (uint64, error) {
	if tx.strategyCount != nil {
		return *tx.strategyCount, nil
	}
	return tx.base.GetStrategyCount()
}

func (tx *stateTx) PutStrategyCount(count uint64) error {
	tx.strategyCount = &count
	return nil
}

func (tx *stateTx) GetStrategy(id uint64) (*StrategyDescriptor, error) {
	if desc, ok := tx.strategies[id]; ok {
		return desc.Clone(), nil
	}
	return tx.base.GetStrategy(id)
}

func (tx *stateTx) PutStrategy(desc *StrategyDescriptor) error {
	if desc == nil {
		return errors.New("vault: nil strategy descriptor")
	}
	tx.strategies[desc.ID] = desc.Clone()
	return nil
}

func (tx *stateTx) DeleteStrategy(uint64) error {
	return errors.New("vault: strategies cannot be deleted")
}

func (tx *stateTx) GetWithdrawalCount(owner common.Address) (uint64, error) {
	if n, ok := tx.withdrawalCounts[owner]; ok {
		return n, nil
	}
	return tx.base.GetWithdrawalCount(owner)
}

func (tx *stateTx) PutWithdrawalCount(owner common.Address, count uint64) error {
	tx.withdrawalCounts[owner] = count
	return nil
}

func (tx *stateTx) GetWithdrawalRequest(owner common.Address, id uint64) (*WithdrawalRequest, error) {
	if req, ok := tx.requests[requestKey{owner, id}]; ok {
		return req.Clone(), nil
	}
	return tx.base.GetWithdrawalRequest(owner, id)
}

func (tx *stateTx) PutWithdrawalRequest(owner common.Address, req *WithdrawalRequest) error {
	if req == nil {
		return errors.New("vault: nil withdrawal request")
	}
	tx.requests[requestKey{owner, req.RequestID}] = req.Clone()
	return nil
}

func (tx *stateTx) DeleteWithdrawalRequest(common.Address, uint64) error {
	return errors.New("vault: withdrawal requests cannot be deleted")
}

func (tx *stateTx) GetPaused() (bool, error) {
	if tx.paused != nil {
		return *tx.paused, nil
	}
	return tx.base.GetPaused()
}

func (tx *stateTx) PutPaused(paused bool) error {
	tx.paused = &paused
	return nil
}

// commit writes every staged value to the base state and returns a function
// that restores the pre-images. A failed commit restores what it already
// wrote before returning.
func (tx *stateTx) commit() (func() error, error) {
	var undo []func() error
	rollback := func() error {
		var errs []error
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (func() error, error) {
		if rbErr := rollback(); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}
	base := tx.base

	if tx.totalShares != nil {
		prev, err := base.GetTotalShares()
		if err != nil {
			return fail(err)
		}
		prev = cloneOrZero(prev)
		if err := base.PutTotalShares(tx.totalShares); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return base.PutTotalShares(prev) })
	}
	for owner, balance := range tx.balances {
		owner := owner
		prev, err := base.GetShareBalance(owner)
		if err != nil {
			return fail(err)
		}
		prev = cloneOrZero(prev)
		if err := base.PutShareBalance(owner, balance); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return base.PutShareBalance(owner, prev) })
	}
	for key, amount := range tx.allowances {
		key := key
		prev, err := base.GetShareAllowance(key.owner, key.spender)
		if err != nil {
			return fail(err)
		}
		prev = cloneOrZero(prev)
		if err := base.PutShareAllowance(key.owner, key.spender, amount); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return base.PutShareAllowance(key.owner, key.spender, prev) })
	}
	for id, desc := range tx.strategies {
		id := id
		prev, err := base.GetStrategy(id)
		if err != nil {
			return fail(err)
		}
		if err := base.PutStrategy(desc); err != nil {
			return fail(err)
		}
		if prev == nil {
			undo = append(undo, func() error { return base.DeleteStrategy(id) })
		} else {
			undo = append(undo, func() error { return base.PutStrategy(prev) })
		}
	}
	if tx.strategyCount != nil {
		prev, err := base.GetStrategyCount()
		if err != nil {
			return fail(err)
		}
		if err := base.PutStrategyCount(*tx.strategyCount); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return base.PutStrategyCount(prev) })
	}
	for key, req := range tx.requests {
		key := key
		prev, err := base.GetWithdrawalRequest(key.owner, key.id)
		if err != nil {
			return fail(err)
		}
		if err := base.PutWithdrawalRequest(key.owner, req); err != nil {
			return fail(err)
		}
		if prev == nil {
			undo = append(undo, func() error { return base.DeleteWithdrawalRequest(key.owner, key.id) })
		} else {
			undo = append(undo, func() error { return base.PutWithdrawalRequest(key.owner, prev) })
		}
	}
	for owner, count := range tx.withdrawalCounts {
		owner := owner
		prev, err := base.GetWithdrawalCount(owner)
		if err != nil {
			return fail(err)
		}
		if err := base.PutWithdrawalCount(owner, count); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return base.PutWithdrawalCount(owner, prev) })
	}
	if tx.paused != nil {
		prev, err := base.GetPaused()
		if err != nil {
			return fail(err)
		}
		if err := base.PutPaused(*tx.paused); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return base.PutPaused(prev) })
	}
	return rollback, nil
}

// compensations collects the inverse of each collaborator call made by an
// effect so a later failure can unwind the earlier ones.
type compensations []func() error

func (c *compensations) add(fn func() error) { *c = append(*c, fn) }

// fail unwinds the recorded calls in reverse order and returns cause joined
// with any unwind error.
func (c compensations) fail(cause error) error {
	errs := []error{cause}
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
