package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type boundStrategy struct {
	desc     *StrategyDescriptor
	strategy Strategy
}

func (e *Engine) descriptors(st engineState) ([]*StrategyDescriptor, error) {
	count, err := st.GetStrategyCount()
	if err != nil {
		return nil, err
	}
	out := make([]*StrategyDescriptor, 0, count)
	for id := uint64(0); id < count; id++ {
		desc, err := st.GetStrategy(id)
		if err != nil {
			return nil, err
		}
		if desc == nil {
			return nil, ErrStrategyNotFound
		}
		out = append(out, desc)
	}
	return out, nil
}

// activeStrategies returns the active registry entries in registration order
// together with their collaborators.
func (e *Engine) activeStrategies(st engineState) ([]boundStrategy, error) {
	descs, err := e.descriptors(st)
	if err != nil {
		return nil, err
	}
	out := make([]boundStrategy, 0, len(descs))
	for _, desc := range descs {
		if !desc.Active {
			continue
		}
		strategy, err := e.binding(desc.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, boundStrategy{desc: desc, strategy: strategy})
	}
	return out, nil
}

func (e *Engine) idle() *big.Int {
	return cloneOrZero(e.asset.BalanceOf(e.address))
}

func (e *Engine) totalAssets(st engineState) (*big.Int, error) {
	active, err := e.activeStrategies(st)
	if err != nil {
		return nil, err
	}
	total := e.idle()
	for _, s := range active {
		total.Add(total, cloneOrZero(s.strategy.TotalAssets()))
	}
	return total, nil
}

func (e *Engine) toShares(st engineState, assets *big.Int, mode rounding) (*big.Int, error) {
	supply, err := st.GetTotalShares()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return cloneOrZero(assets), nil
	}
	total, err := e.totalAssets(st)
	if err != nil {
		return nil, err
	}
	return mulDiv(assets, supply, total, mode)
}

func (e *Engine) toAssets(st engineState, shares *big.Int, mode rounding) (*big.Int, error) {
	supply, err := st.GetTotalShares()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return cloneOrZero(shares), nil
	}
	total, err := e.totalAssets(st)
	if err != nil {
		return nil, err
	}
	return mulDiv(shares, total, supply, mode)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.asset == nil {
		return errNilAsset
	}
	return nil
}

// TotalAssets returns the idle balance plus the live holdings of every active
// strategy.
func (e *Engine) TotalAssets() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.totalAssets(e.state)
}

// IdleBalance returns the asset balance held directly by the vault.
func (e *Engine) IdleBalance() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.idle(), nil
}

// InstantLiquidity returns what a withdrawal could pay out synchronously.
func (e *Engine) InstantLiquidity() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	active, err := e.activeStrategies(e.state)
	if err != nil {
		return nil, err
	}
	total := e.idle()
	for _, s := range active {
		total.Add(total, cloneOrZero(s.strategy.Withdrawable()))
	}
	return total, nil
}

func (e *Engine) TotalSupply() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.GetTotalShares()
}

func (e *Engine) BalanceOf(owner common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.GetShareBalance(owner)
}

// ConvertToShares returns floor(assets*totalSupply/totalAssets), or assets
// while no shares exist.
func (e *Engine) ConvertToShares(assets *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.toShares(e.state, assets, roundDown)
}

// ConvertToAssets returns floor(shares*totalAssets/totalSupply), or shares
// while no shares exist.
func (e *Engine) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.toAssets(e.state, shares, roundDown)
}

// PreviewDeposit returns the shares Deposit would mint for assets.
func (e *Engine) PreviewDeposit(assets *big.Int) (*big.Int, error) {
	return e.ConvertToShares(assets)
}

// PreviewWithdraw returns the shares Withdraw would burn for assets. The
// division rounds up so the burn always covers the payout.
func (e *Engine) PreviewWithdraw(assets *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.toShares(e.state, assets, roundUp)
}

// PreviewRedeem returns the assets Redeem would pay for shares.
func (e *Engine) PreviewRedeem(shares *big.Int) (*big.Int, error) {
	return e.ConvertToAssets(shares)
}

// MaxDeposit returns the remaining room under the deposit cap, or nil when
// the vault is uncapped. Paused vaults accept nothing.
func (e *Engine) MaxDeposit() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.Paused() {
		return big.NewInt(0), nil
	}
	if e.depositCap == nil {
		return nil, nil
	}
	total, err := e.totalAssets(e.state)
	if err != nil {
		return nil, err
	}
	room := new(big.Int).Sub(e.depositCap, total)
	if room.Sign() < 0 {
		room.SetInt64(0)
	}
	return room, nil
}

// MaxWithdraw returns the assets owner could withdraw now, counting both the
// instant and the queueable portion.
func (e *Engine) MaxWithdraw(owner common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.Paused() {
		return big.NewInt(0), nil
	}
	balance, err := e.state.GetShareBalance(owner)
	if err != nil {
		return nil, err
	}
	value, err := e.toAssets(e.state, balance, roundDown)
	if err != nil {
		return nil, err
	}
	total, err := e.totalAssets(e.state)
	if err != nil {
		return nil, err
	}
	return minBig(value, total), nil
}

// MaxRedeem returns the shares owner could redeem now.
func (e *Engine) MaxRedeem(owner common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.Paused() {
		return big.NewInt(0), nil
	}
	return e.state.GetShareBalance(owner)
}

// Snapshot returns the headline figures in one read.
func (e *Engine) Snapshot() (*Snapshot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total, err := e.totalAssets(e.state)
	if err != nil {
		return nil, err
	}
	supply, err := e.state.GetTotalShares()
	if err != nil {
		return nil, err
	}
	count, err := e.state.GetStrategyCount()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		TotalAssets:   total,
		TotalSupply:   cloneOrZero(supply),
		IdleBalance:   e.idle(),
		StrategyCount: count,
		Paused:        e.Paused(),
	}, nil
}
