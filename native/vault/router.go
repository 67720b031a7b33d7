package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

type allocation struct {
	strategy Strategy
	amount   *big.Int
}

// splitDeposit routes floor(amount*bps/10000) to every active strategy in
// registration order. The remainder stays idle.
func splitDeposit(active []boundStrategy, amount *big.Int) ([]allocation, error) {
	out := make([]allocation, 0, len(active))
	for _, s := range active {
		share, err := bpsOf(amount, s.desc.AllocationBps)
		if err != nil {
			return nil, err
		}
		if share.Sign() == 0 {
			continue
		}
		out = append(out, allocation{strategy: s.strategy, amount: share})
	}
	return out, nil
}

// push moves amount from the vault to strategy and has the strategy account
// for it. Registers the inverse transfer on comp.
func (e *Engine) push(strategy Strategy, amount *big.Int, comp *compensations) error {
	to := strategy.Address()
	if err := e.asset.Transfer(e.address, to, amount); err != nil {
		return fmt.Errorf("vault: fund %s: %w", to.Hex(), err)
	}
	if err := strategy.Deposit(new(big.Int).Set(amount)); err != nil {
		if rbErr := e.asset.Transfer(to, e.address, amount); rbErr != nil {
			return fmt.Errorf("vault: deposit into %s: %w (refund failed: %v)", to.Hex(), err, rbErr)
		}
		return fmt.Errorf("vault: deposit into %s: %w", to.Hex(), err)
	}
	comp.add(func() error { return pull(strategy, amount) })
	return nil
}

// withdrawFrom pulls amount out of strategy and registers a re-deposit on comp.
func (e *Engine) withdrawFrom(strategy Strategy, amount *big.Int, comp *compensations) error {
	if err := pull(strategy, amount); err != nil {
		return err
	}
	comp.add(func() error {
		var nested compensations
		return e.push(strategy, amount, &nested)
	})
	return nil
}

// Rebalance moves capital between active strategies toward their target
// weights. Strategies above target release only what they can release
// instantly, and no withdrawal request is ever created.
func (e *Engine) Rebalance(caller common.Address) (*RebalanceResult, error) {
	var result *RebalanceResult
	err := e.mutate("rebalance", func(tx *stateTx) (effect, error) {
		if err := e.requireRole(RoleManager, caller); err != nil {
			return nil, err
		}
		if err := e.guardPaused(tx); err != nil {
			return nil, err
		}
		active, err := e.activeStrategies(tx)
		if err != nil {
			return nil, err
		}
		total := e.idle()
		current := make([]*big.Int, len(active))
		for i, s := range active {
			current[i] = cloneOrZero(s.strategy.TotalAssets())
			total.Add(total, current[i])
		}

		targets := make([]*big.Int, len(active))
		targetSum := new(big.Int)
		for i, s := range active {
			target, err := bpsOf(total, s.desc.AllocationBps)
			if err != nil {
				return nil, err
			}
			targets[i] = target
			targetSum.Add(targetSum, target)
		}
		reserve := new(big.Int).Sub(total, targetSum)
		if reserve.Sign() < 0 {
			reserve.SetInt64(0)
		}

		moves := make([]StrategyMove, len(active))
		available := e.idle()
		for i, s := range active {
			moves[i] = StrategyMove{StrategyID: s.desc.ID, Target: targets[i], Before: current[i], Delta: big.NewInt(0)}
			if current[i].Cmp(targets[i]) <= 0 {
				continue
			}
			excess := new(big.Int).Sub(current[i], targets[i])
			release := minBig(excess, cloneOrZero(s.strategy.Withdrawable()))
			if release.Sign() <= 0 {
				continue
			}
			moves[i].Delta = new(big.Int).Neg(release)
			available.Add(available, release)
		}
		available.Sub(available, reserve)
		for i := range active {
			if available.Sign() <= 0 {
				break
			}
			if current[i].Cmp(targets[i]) >= 0 {
				continue
			}
			deficit := new(big.Int).Sub(targets[i], current[i])
			amount := minBig(deficit, available)
			moves[i].Delta = amount
			available.Sub(available, amount)
		}

		moved := new(big.Int)
		changed := 0
		for _, m := range moves {
			if m.Delta.Sign() != 0 {
				moved.Add(moved, new(big.Int).Abs(m.Delta))
				changed++
			}
		}
		result = &RebalanceResult{TotalAssets: total, Moves: moves}
		tx.emit(events.VaultRebalanced{Caller: caller, TotalAssets: total, Moved: moved, Moves: changed})

		return func() error {
			var comp compensations
			for i, m := range moves {
				if m.Delta.Sign() < 0 {
					if err := e.withdrawFrom(active[i].strategy, new(big.Int).Neg(m.Delta), &comp); err != nil {
						return comp.fail(err)
					}
				}
			}
			for i, m := range moves {
				if m.Delta.Sign() > 0 {
					if err := e.push(active[i].strategy, m.Delta, &comp); err != nil {
						return comp.fail(err)
					}
				}
			}
			e.logger.Info("vault rebalanced", "total_assets", total.String(), "moved", moved.String(), "moves", changed)
			return nil
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
