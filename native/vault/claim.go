package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

// ClaimWithdrawal settles a queued request owned by caller once its source
// strategy reports the reserved amount releasable. The receiver recorded at
// request time is paid exactly the reserved amount. Claims are allowed while
// the vault is paused.
func (e *Engine) ClaimWithdrawal(caller common.Address, requestID uint64) (*big.Int, error) {
	var paid *big.Int
	err := e.mutate("claim", func(tx *stateTx) (effect, error) {
		req, err := tx.GetWithdrawalRequest(caller, requestID)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, ErrWithdrawalRequestNotFound
		}
		if req.Claimed {
			return nil, ErrWithdrawalAlreadyClaimed
		}
		desc, strategy, err := e.requestStrategy(tx, req)
		if err != nil {
			return nil, err
		}
		if !releasable(strategy, e.address, req) {
			return nil, ErrClaimNotYetAvailable
		}
		req.Claimed = true
		if err := tx.PutWithdrawalRequest(caller, req); err != nil {
			return nil, err
		}
		amount := new(big.Int).Set(req.Amount)
		paid = amount
		tx.emit(events.VaultWithdrawalClaimed{Owner: caller, Receiver: req.Receiver, RequestID: requestID, Amount: amount})

		return func() error {
			released, err := strategy.ClaimWithdrawal(e.address, req.StrategyRequestID)
			if err != nil {
				return fmt.Errorf("vault: claim from %s: %w", desc.Address.Hex(), err)
			}
			if released == nil || released.Cmp(amount) < 0 {
				return fmt.Errorf("%w: %s", ErrStrategyShortfall, desc.Address.Hex())
			}
			if err := e.asset.Transfer(e.address, req.Receiver, amount); err != nil {
				return fmt.Errorf("vault: pay claim: %w", err)
			}
			e.logger.Info("vault withdrawal claimed", "owner", caller.Hex(), "request_id", requestID, "amount", amount.String())
			return nil
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (e *Engine) requestStrategy(st engineState, req *WithdrawalRequest) (*StrategyDescriptor, Strategy, error) {
	desc, err := st.GetStrategy(req.StrategyID)
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return nil, nil, ErrStrategyNotFound
	}
	strategy, err := e.binding(desc.Address)
	if err != nil {
		return nil, nil, err
	}
	return desc, strategy, nil
}

func releasable(strategy Strategy, vault common.Address, req *WithdrawalRequest) bool {
	pending := strategy.PendingWithdrawal(vault, req.StrategyRequestID)
	return positive(pending) && pending.Cmp(req.Amount) >= 0
}

// IsClaimable reports whether ClaimWithdrawal would succeed for the request
// right now.
func (e *Engine) IsClaimable(owner common.Address, requestID uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	req, err := e.state.GetWithdrawalRequest(owner, requestID)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, ErrWithdrawalRequestNotFound
	}
	if req.Claimed {
		return false, nil
	}
	_, strategy, err := e.requestStrategy(e.state, req)
	if err != nil {
		return false, err
	}
	return releasable(strategy, e.address, req), nil
}

// PendingWithdrawalInfo returns the stored request with its live claimability.
func (e *Engine) PendingWithdrawalInfo(owner common.Address, requestID uint64) (*PendingWithdrawalInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	req, err := e.state.GetWithdrawalRequest(owner, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrWithdrawalRequestNotFound
	}
	return e.requestInfo(req)
}

func (e *Engine) requestInfo(req *WithdrawalRequest) (*PendingWithdrawalInfo, error) {
	desc, strategy, err := e.requestStrategy(e.state, req)
	if err != nil {
		return nil, err
	}
	return &PendingWithdrawalInfo{
		RequestID:         req.RequestID,
		Strategy:          desc.Address,
		StrategyID:        req.StrategyID,
		StrategyRequestID: req.StrategyRequestID,
		Amount:            cloneOrZero(req.Amount),
		Receiver:          req.Receiver,
		Claimed:           req.Claimed,
		Claimable:         !req.Claimed && releasable(strategy, e.address, req),
		CreatedAt:         req.CreatedAt,
	}, nil
}

// WithdrawalRequestCount returns how many requests owner has ever created.
// Request ids run from zero to count-1.
func (e *Engine) WithdrawalRequestCount(owner common.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.GetWithdrawalCount(owner)
}

// PendingWithdrawals lists owner's unclaimed requests in id order.
func (e *Engine) PendingWithdrawals(owner common.Address) ([]*PendingWithdrawalInfo, error) {
	count, err := e.WithdrawalRequestCount(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*PendingWithdrawalInfo, 0)
	for id := uint64(0); id < count; id++ {
		req, err := e.state.GetWithdrawalRequest(owner, id)
		if err != nil {
			return nil, err
		}
		if req == nil || req.Claimed {
			continue
		}
		info, err := e.requestInfo(req)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}
