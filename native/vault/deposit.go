package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

// Deposit pulls assets from caller, mints shares to receiver and routes the
// assets across the active strategies by weight.
func (e *Engine) Deposit(caller, receiver common.Address, assets *big.Int) (*big.Int, error) {
	var minted *big.Int
	err := e.mutate("deposit", func(tx *stateTx) (effect, error) {
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
		if _, err := toUint256(amount); err != nil {
			return nil, err
		}
		if e.depositCap != nil {
			total, err := e.totalAssets(tx)
			if err != nil {
				return nil, err
			}
			if new(big.Int).Add(total, amount).Cmp(e.depositCap) > 0 {
				return nil, ErrDepositCapExceeded
			}
		}
		shares, err := e.toShares(tx, amount, roundDown)
		if err != nil {
			return nil, err
		}
		if shares.Sign() == 0 {
			return nil, ErrZeroShares
		}
		if err := e.mint(tx, receiver, shares); err != nil {
			return nil, err
		}
		active, err := e.activeStrategies(tx)
		if err != nil {
			return nil, err
		}
		plan, err := splitDeposit(active, amount)
		if err != nil {
			return nil, err
		}
		minted = shares
		tx.emit(events.VaultDeposit{Caller: caller, Receiver: receiver, Assets: amount, Shares: shares})

		return func() error {
			if err := e.asset.TransferFrom(e.address, caller, e.address, amount); err != nil {
				return fmt.Errorf("vault: pull deposit: %w", err)
			}
			comp := compensations{func() error { return e.asset.Transfer(e.address, caller, amount) }}
			for _, a := range plan {
				if err := e.push(a.strategy, a.amount, &comp); err != nil {
					return comp.fail(err)
				}
			}
			e.logger.Info("vault deposit", "caller", caller.Hex(), "receiver", receiver.Hex(), "assets", amount.String(), "shares", shares.String())
			return nil
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

func (e *Engine) mint(tx *stateTx, to common.Address, shares *big.Int) error {
	supply, err := tx.GetTotalShares()
	if err != nil {
		return err
	}
	balance, err := tx.GetShareBalance(to)
	if err != nil {
		return err
	}
	if err := tx.PutTotalShares(supply.Add(supply, shares)); err != nil {
		return err
	}
	return tx.PutShareBalance(to, balance.Add(balance, shares))
}

func (e *Engine) burn(tx *stateTx, from common.Address, shares *big.Int) error {
	balance, err := tx.GetShareBalance(from)
	if err != nil {
		return err
	}
	if balance.Cmp(shares) < 0 {
		return ErrExceedsOwnerEntitlement
	}
	supply, err := tx.GetTotalShares()
	if err != nil {
		return err
	}
	if supply.Cmp(shares) < 0 {
		return ErrExceedsOwnerEntitlement
	}
	if err := tx.PutShareBalance(from, balance.Sub(balance, shares)); err != nil {
		return err
	}
	return tx.PutTotalShares(supply.Sub(supply, shares))
}
