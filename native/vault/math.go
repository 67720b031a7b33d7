package vault

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MaxBasisPoints is the full allocation (100%).
	MaxBasisPoints = 10_000
	// MaxStrategyAllocationBps caps the weight of any single strategy.
	MaxStrategyAllocationBps = 8_000
)

var basisPoints = big.NewInt(MaxBasisPoints)

type rounding uint8

const (
	roundDown rounding = iota
	roundUp
)

// mulDiv returns x*y/d with a 512-bit intermediate product. Operands and the
// result must fit in 256 bits.
func mulDiv(x, y, d *big.Int, mode rounding) (*big.Int, error) {
	ux, err := toUint256(x)
	if err != nil {
		return nil, err
	}
	uy, err := toUint256(y)
	if err != nil {
		return nil, err
	}
	ud, err := toUint256(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return big.NewInt(0), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrAmountOverflow
	}
	if mode == roundUp && !new(uint256.Int).MulMod(ux, uy, ud).IsZero() {
		if z.Eq(maxUint256) {
			return nil, ErrAmountOverflow
		}
		z.AddUint64(z, 1)
	}
	return z.ToBig(), nil
}

var maxUint256 = new(uint256.Int).SetAllOne()

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrAmountOverflow
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return u, nil
}

// bpsOf returns floor(amount*bps/10000).
func bpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints, roundDown)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
