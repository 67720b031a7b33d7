package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

type queuedPortion struct {
	desc     *StrategyDescriptor
	strategy Strategy
	amount   *big.Int
	request  *WithdrawalRequest
}

// withdrawalPlan is the instant/queued split of one withdrawal.
type withdrawalPlan struct {
	instant *big.Int
	pulls   []allocation
	queued  []*queuedPortion
}

func (p *withdrawalPlan) queuedTotal() *big.Int {
	total := new(big.Int)
	for _, q := range p.queued {
		total.Add(total, q.amount)
	}
	return total
}

// planWithdrawal covers assets from idle balance first, then from what each
// active strategy can release instantly, and finally queues the remainder
// against the strategies' remaining holdings in registration order.
func (e *Engine) planWithdrawal(active []boundStrategy, assets *big.Int) (*withdrawalPlan, error) {
	remaining := new(big.Int).Set(assets)
	plan := &withdrawalPlan{instant: minBig(e.idle(), remaining)}
	remaining.Sub(remaining, plan.instant)

	taken := make([]*big.Int, len(active))
	for i, s := range active {
		taken[i] = big.NewInt(0)
		if remaining.Sign() == 0 {
			continue
		}
		take := minBig(cloneOrZero(s.strategy.Withdrawable()), remaining)
		if take.Sign() <= 0 {
			continue
		}
		taken[i] = take
		plan.pulls = append(plan.pulls, allocation{strategy: s.strategy, amount: take})
		plan.instant.Add(plan.instant, take)
		remaining.Sub(remaining, take)
	}
	for i, s := range active {
		if remaining.Sign() == 0 {
			break
		}
		capacity := new(big.Int).Sub(cloneOrZero(s.strategy.TotalAssets()), taken[i])
		if capacity.Sign() <= 0 {
			continue
		}
		portion := minBig(capacity, remaining)
		plan.queued = append(plan.queued, &queuedPortion{desc: s.desc, strategy: s.strategy, amount: portion})
		remaining.Sub(remaining, portion)
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientVaultLiquidity
	}
	return plan, nil
}

// Withdraw burns the shares worth assets from owner and pays receiver. Any
// part that cannot be released instantly becomes withdrawal requests owned by
// owner.
func (e *Engine) Withdraw(caller, receiver, owner common.Address, assets *big.Int) (*WithdrawalResult, error) {
	var result *WithdrawalResult
	err := e.mutate("withdraw", func(tx *stateTx) (effect, error) {
		if !positive(assets) {
			return nil, ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return nil, ErrInvalidReceiver
		}
		if err := e.guardPaused(tx); err != nil {
			return nil, err
		}
		amount := new(big.Int).Set(assets)
		shares, err := e.toShares(tx, amount, roundUp)
		if err != nil {
			return nil, err
		}
		run, res, err := e.settle(tx, caller, receiver, owner, amount, shares)
		result = res
		return run, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Redeem burns shares from owner and pays receiver their current value,
// queuing whatever cannot be released instantly.
func (e *Engine) Redeem(caller, receiver, owner common.Address, shares *big.Int) (*WithdrawalResult, error) {
	var result *WithdrawalResult
	err := e.mutate("redeem", func(tx *stateTx) (effect, error) {
		if !positive(shares) {
			return nil, ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return nil, ErrInvalidReceiver
		}
		if err := e.guardPaused(tx); err != nil {
			return nil, err
		}
		burn := new(big.Int).Set(shares)
		balance, err := tx.GetShareBalance(owner)
		if err != nil {
			return nil, err
		}
		if burn.Cmp(balance) > 0 {
			return nil, ErrExceedsOwnerEntitlement
		}
		assets, err := e.toAssets(tx, burn, roundDown)
		if err != nil {
			return nil, err
		}
		if assets.Sign() == 0 {
			return nil, ErrZeroAmount
		}
		run, res, err := e.settle(tx, caller, receiver, owner, assets, burn)
		result = res
		return run, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) settle(tx *stateTx, caller, receiver, owner common.Address, assets, shares *big.Int) (effect, *WithdrawalResult, error) {
	balance, err := tx.GetShareBalance(owner)
	if err != nil {
		return nil, nil, err
	}
	if shares.Cmp(balance) > 0 {
		return nil, nil, ErrExceedsOwnerEntitlement
	}
	if caller != owner {
		if err := e.spendAllowance(tx, owner, caller, shares); err != nil {
			return nil, nil, err
		}
	}
	active, err := e.activeStrategies(tx)
	if err != nil {
		return nil, nil, err
	}
	plan, err := e.planWithdrawal(active, assets)
	if err != nil {
		return nil, nil, err
	}
	if err := e.burn(tx, owner, shares); err != nil {
		return nil, nil, err
	}

	next, err := tx.GetWithdrawalCount(owner)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]uint64, 0, len(plan.queued))
	createdAt := e.timestamp()
	for _, q := range plan.queued {
		q.request = &WithdrawalRequest{
			RequestID:  next,
			StrategyID: q.desc.ID,
			Amount:     new(big.Int).Set(q.amount),
			Receiver:   receiver,
			CreatedAt:  createdAt,
		}
		if err := tx.PutWithdrawalRequest(owner, q.request); err != nil {
			return nil, nil, err
		}
		ids = append(ids, next)
		next++
	}
	if len(plan.queued) > 0 {
		if err := tx.PutWithdrawalCount(owner, next); err != nil {
			return nil, nil, err
		}
	}

	queued := plan.queuedTotal()
	result := &WithdrawalResult{
		Shares:   new(big.Int).Set(shares),
		Assets:   new(big.Int).Set(assets),
		Instant:  new(big.Int).Set(plan.instant),
		Queued:   queued,
		Requests: ids,
	}
	tx.emit(events.VaultWithdraw{
		Caller:   caller,
		Receiver: receiver,
		Owner:    owner,
		Assets:   result.Assets,
		Shares:   result.Shares,
		Instant:  result.Instant,
		Queued:   queued,
	})

	run := func() error {
		var comp compensations
		for _, p := range plan.pulls {
			if err := e.withdrawFrom(p.strategy, p.amount, &comp); err != nil {
				return comp.fail(err)
			}
		}
		if plan.instant.Sign() > 0 {
			if err := e.asset.Transfer(e.address, receiver, plan.instant); err != nil {
				return comp.fail(fmt.Errorf("vault: pay receiver: %w", err))
			}
			comp.add(func() error { return e.asset.Transfer(receiver, e.address, plan.instant) })
		}
		for _, q := range plan.queued {
			ticket, err := q.strategy.RequestWithdrawal(e.address, new(big.Int).Set(q.amount))
			if err != nil {
				e.logger.Error("strategy withdrawal request failed", "strategy", q.desc.Address.Hex(), "amount", q.amount.String(), "error", err)
				return comp.fail(fmt.Errorf("vault: queue on %s: %w", q.desc.Address.Hex(), err))
			}
			target := q.strategy
			comp.add(func() error { return target.CancelWithdrawal(e.address, ticket) })
			q.request.StrategyRequestID = ticket
			if err := e.state.PutWithdrawalRequest(owner, q.request); err != nil {
				return comp.fail(err)
			}
			tx.emit(events.VaultWithdrawalQueued{
				Owner:             owner,
				Receiver:          receiver,
				RequestID:         q.request.RequestID,
				StrategyID:        q.desc.ID,
				Strategy:          q.desc.Address,
				StrategyRequestID: ticket,
				Amount:            q.amount,
			})
		}
		e.logger.Info("vault withdrawal",
			"owner", owner.Hex(),
			"receiver", receiver.Hex(),
			"assets", assets.String(),
			"shares", shares.String(),
			"instant", plan.instant.String(),
			"queued", queued.String(),
		)
		return nil
	}
	return run, result, nil
}

func (e *Engine) spendAllowance(tx *stateTx, owner, spender common.Address, shares *big.Int) error {
	allowed, err := tx.GetShareAllowance(owner, spender)
	if err != nil {
		return err
	}
	if allowed.Cmp(shares) < 0 {
		return ErrInsufficientAllowance
	}
	return tx.PutShareAllowance(owner, spender, allowed.Sub(allowed, shares))
}

// Approve lets spender withdraw or redeem up to shares on behalf of owner.
// A zero amount revokes the allowance.
func (e *Engine) Approve(owner, spender common.Address, shares *big.Int) error {
	return e.mutate("approve", func(tx *stateTx) (effect, error) {
		if spender == (common.Address{}) {
			return nil, ErrInvalidReceiver
		}
		amount := cloneOrZero(shares)
		if amount.Sign() < 0 {
			return nil, ErrZeroAmount
		}
		return nil, tx.PutShareAllowance(owner, spender, amount)
	})
}

// Allowance returns the shares spender may still move for owner.
func (e *Engine) Allowance(owner, spender common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.GetShareAllowance(owner, spender)
}
