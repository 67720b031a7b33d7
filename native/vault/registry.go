package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

// BindStrategy attaches a collaborator to the engine without touching the
// registry. Used to reconnect strategies after the registry is restored from
// persistent state.
func (e *Engine) BindStrategy(strategy Strategy) error {
	if e == nil {
		return errNilState
	}
	if strategy == nil {
		return ErrStrategyNotBound
	}
	e.bind(strategy)
	return nil
}

// AddStrategy registers strategy with the given target weight and activates
// it. The new entry's id is returned.
func (e *Engine) AddStrategy(caller common.Address, strategy Strategy, bps uint64) (uint64, error) {
	var id uint64
	err := e.mutate("addStrategy", func(tx *stateTx) (effect, error) {
		if err := e.requireRole(RoleManager, caller); err != nil {
			return nil, err
		}
		if strategy == nil {
			return nil, ErrStrategyNotBound
		}
		if bps > MaxStrategyAllocationBps {
			return nil, ErrAllocationCapExceeded
		}
		descs, err := e.descriptors(tx)
		if err != nil {
			return nil, err
		}
		addr := strategy.Address()
		for _, desc := range descs {
			if desc.Address == addr {
				return nil, fmt.Errorf("%w: %s", ErrStrategyExists, addr.Hex())
			}
		}
		if activeSum(descs, nil)+bps > MaxBasisPoints {
			return nil, ErrAllocationSumExceeded
		}
		id = uint64(len(descs))
		desc := &StrategyDescriptor{
			ID:            id,
			Address:       addr,
			AllocationBps: bps,
			Active:        true,
			HasLockup:     strategy.HasLockup(),
		}
		if err := tx.PutStrategy(desc); err != nil {
			return nil, err
		}
		if err := tx.PutStrategyCount(id + 1); err != nil {
			return nil, err
		}
		tx.emit(events.VaultStrategyAdded{StrategyID: id, Strategy: addr, AllocationBps: bps, HasLockup: desc.HasLockup})
		return func() error {
			e.bind(strategy)
			e.logger.Info("vault strategy added", "strategy_id", id, "strategy", addr.Hex(), "bps", bps)
			return nil
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// activeSum totals the weights of active entries, substituting the proposed
// weight for any id present in override.
func activeSum(descs []*StrategyDescriptor, override map[uint64]uint64) uint64 {
	var sum uint64
	for _, desc := range descs {
		if !desc.Active {
			continue
		}
		bps := desc.AllocationBps
		if next, ok := override[desc.ID]; ok {
			bps = next
		}
		sum += bps
	}
	return sum
}

// UpdateAllocation replaces the target weight of one strategy.
func (e *Engine) UpdateAllocation(caller common.Address, id uint64, bps uint64) error {
	return e.SetAllocations(caller, []AllocationUpdate{{StrategyID: id, AllocationBps: bps}})
}

// SetAllocations applies a batch of weight changes atomically. The complete
// proposed weight vector is validated before anything is written.
func (e *Engine) SetAllocations(caller common.Address, updates []AllocationUpdate) error {
	return e.mutate("setAllocations", func(tx *stateTx) (effect, error) {
		if err := e.requireRole(RoleManager, caller); err != nil {
			return nil, err
		}
		if len(updates) == 0 {
			return nil, ErrInvalidAllocation
		}
		descs, err := e.descriptors(tx)
		if err != nil {
			return nil, err
		}
		proposed := make(map[uint64]uint64, len(updates))
		for _, u := range updates {
			if _, dup := proposed[u.StrategyID]; dup {
				return nil, fmt.Errorf("%w: duplicate strategy %d", ErrInvalidAllocation, u.StrategyID)
			}
			if u.StrategyID >= uint64(len(descs)) {
				if len(updates) == 1 {
					return nil, ErrStrategyNotFound
				}
				return nil, fmt.Errorf("%w: unknown strategy %d", ErrInvalidAllocation, u.StrategyID)
			}
			if u.AllocationBps > MaxStrategyAllocationBps {
				return nil, ErrAllocationCapExceeded
			}
			proposed[u.StrategyID] = u.AllocationBps
		}
		if activeSum(descs, proposed) > MaxBasisPoints {
			return nil, ErrAllocationSumExceeded
		}
		for _, u := range updates {
			desc := descs[u.StrategyID]
			if desc.AllocationBps == u.AllocationBps {
				continue
			}
			old := desc.AllocationBps
			desc.AllocationBps = u.AllocationBps
			if err := tx.PutStrategy(desc); err != nil {
				return nil, err
			}
			tx.emit(events.VaultAllocationUpdated{StrategyID: desc.ID, OldBps: old, NewBps: u.AllocationBps})
		}
		return nil, nil
	})
}

// ActivateStrategy includes a deactivated strategy in routing again. Its
// weight must still fit under the active total.
func (e *Engine) ActivateStrategy(caller common.Address, id uint64) error {
	return e.mutate("activateStrategy", func(tx *stateTx) (effect, error) {
		if err := e.requireRole(RoleManager, caller); err != nil {
			return nil, err
		}
		descs, err := e.descriptors(tx)
		if err != nil {
			return nil, err
		}
		if id >= uint64(len(descs)) {
			return nil, ErrStrategyNotFound
		}
		desc := descs[id]
		if desc.Active {
			return nil, nil
		}
		if _, err := e.binding(desc.Address); err != nil {
			return nil, err
		}
		if activeSum(descs, nil)+desc.AllocationBps > MaxBasisPoints {
			return nil, ErrAllocationSumExceeded
		}
		desc.Active = true
		if err := tx.PutStrategy(desc); err != nil {
			return nil, err
		}
		tx.emit(events.VaultStrategyStatus{StrategyID: id, Active: true})
		return nil, nil
	})
}

// DeactivateStrategy excludes a strategy from routing and pulls its balance
// back to idle. Strategies still holding locked capital cannot be
// deactivated. Existing withdrawal requests against it stay claimable.
func (e *Engine) DeactivateStrategy(caller common.Address, id uint64) error {
	return e.mutate("deactivateStrategy", func(tx *stateTx) (effect, error) {
		if err := e.requireRole(RoleManager, caller); err != nil {
			return nil, err
		}
		desc, err := tx.GetStrategy(id)
		if err != nil {
			return nil, err
		}
		if desc == nil {
			return nil, ErrStrategyNotFound
		}
		if !desc.Active {
			return nil, nil
		}
		strategy, err := e.binding(desc.Address)
		if err != nil {
			return nil, err
		}
		held := cloneOrZero(strategy.TotalAssets())
		releasable := cloneOrZero(strategy.Withdrawable())
		if held.Cmp(releasable) > 0 {
			return nil, ErrStrategyNotDrained
		}
		desc.Active = false
		if err := tx.PutStrategy(desc); err != nil {
			return nil, err
		}
		tx.emit(events.VaultStrategyStatus{StrategyID: id, Active: false})
		return func() error {
			return pull(strategy, held)
		}, nil
	})
}

// pull withdraws amount from strategy into the vault and requires the full
// amount to arrive.
func pull(strategy Strategy, amount *big.Int) error {
	if !positive(amount) {
		return nil
	}
	paid, err := strategy.Withdraw(new(big.Int).Set(amount))
	if err != nil {
		return fmt.Errorf("vault: withdraw from %s: %w", strategy.Address().Hex(), err)
	}
	if paid == nil || paid.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrStrategyShortfall, strategy.Address().Hex())
	}
	return nil
}

// StrategyCount returns the number of registered strategies, active or not.
func (e *Engine) StrategyCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.GetStrategyCount()
}

// StrategyInfo returns the registry entry for id with live balances.
func (e *Engine) StrategyInfo(id uint64) (*StrategyInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	desc, err := e.state.GetStrategy(id)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, ErrStrategyNotFound
	}
	return e.info(desc), nil
}

// Strategies lists every registry entry in id order.
func (e *Engine) Strategies() ([]*StrategyInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	descs, err := e.descriptors(e.state)
	if err != nil {
		return nil, err
	}
	out := make([]*StrategyInfo, 0, len(descs))
	for _, desc := range descs {
		out = append(out, e.info(desc))
	}
	return out, nil
}

func (e *Engine) info(desc *StrategyDescriptor) *StrategyInfo {
	info := &StrategyInfo{
		ID:            desc.ID,
		Address:       desc.Address,
		AllocationBps: desc.AllocationBps,
		Active:        desc.Active,
		HasLockup:     desc.HasLockup,
		TotalAssets:   big.NewInt(0),
		Withdrawable:  big.NewInt(0),
	}
	if strategy, err := e.binding(desc.Address); err == nil {
		info.TotalAssets = cloneOrZero(strategy.TotalAssets())
		info.Withdrawable = cloneOrZero(strategy.Withdrawable())
	}
	return info
}
