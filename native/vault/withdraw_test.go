package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

const week = 7 * 24 * time.Hour

func TestWithdrawQueuesExactShortfall(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 6000)
	locked := f.addMock(t, week, 4000)
	f.deposit(t, f.user, 1000)

	before := f.token.BalanceOf(f.user)
	res, err := f.engine.Withdraw(f.user, f.user, f.user, big.NewInt(800))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "shares burned", res.Shares, 800)
	expectAmount(t, "instant", res.Instant, 600)
	expectAmount(t, "queued", res.Queued, 200)
	if len(res.Requests) != 1 || res.Requests[0] != 0 {
		t.Fatalf("unexpected request ids %v", res.Requests)
	}

	paid := new(big.Int).Sub(f.token.BalanceOf(f.user), before)
	expectAmount(t, "paid instantly", paid, 600)

	count, err := f.engine.WithdrawalRequestCount(f.user)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 request, got %d", count)
	}
	info, err := f.engine.PendingWithdrawalInfo(f.user, 0)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	expectAmount(t, "request amount", info.Amount, 200)
	if info.StrategyID != 1 || info.Strategy != locked.Address() || info.Claimed || info.Claimable {
		t.Fatalf("unexpected request info %+v", info)
	}

	expectAmount(t, "locked strategy after reservation", locked.TotalAssets(), 200)
	expectAmount(t, "total assets", f.totalAssets(t), 200)
	balance, err := f.engine.BalanceOf(f.user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	expectAmount(t, "remaining shares", balance, 200)

	queued := f.recorder.OfType(events.TypeVaultWithdrawalQueued)
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(queued))
	}
	if ev := queued[0].(events.VaultWithdrawalQueued); ev.Amount.Cmp(big.NewInt(200)) != 0 || ev.RequestID != 0 {
		t.Fatalf("unexpected queued event %+v", ev)
	}
}

func TestWithdrawSpreadsShortfallAcrossStrategies(t *testing.T) {
	f := newFixture(t)
	first := f.addMock(t, week, 5000)
	second := f.addMock(t, week, 5000)
	f.deposit(t, f.user, 1000)

	res, err := f.engine.Withdraw(f.user, f.user, f.user, big.NewInt(700))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "instant", res.Instant, 0)
	expectAmount(t, "queued", res.Queued, 700)
	if len(res.Requests) != 2 {
		t.Fatalf("expected 2 requests, got %v", res.Requests)
	}
	pending, err := f.engine.PendingWithdrawals(f.user)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	sum := new(big.Int)
	for _, p := range pending {
		sum.Add(sum, p.Amount)
	}
	expectAmount(t, "queued sum", sum, 700)
	expectAmount(t, "first strategy", first.TotalAssets(), 0)
	expectAmount(t, "second strategy", second.TotalAssets(), 300)
}

func TestWithdrawPrefersIdleBalance(t *testing.T) {
	f := newFixture(t)
	a := f.addMock(t, 0, 5000)
	f.deposit(t, f.user, 1000)

	res, err := f.engine.Withdraw(f.user, f.other, f.user, big.NewInt(300))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "instant", res.Instant, 300)
	expectAmount(t, "strategy untouched", a.TotalAssets(), 500)
	expectAmount(t, "receiver", f.token.BalanceOf(f.other), 300)
}

func TestWithdrawValidation(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 6000)
	f.deposit(t, f.user, 1000)

	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"withdraw zero", func() error {
			_, err := f.engine.Withdraw(f.user, f.user, f.user, big.NewInt(0))
			return err
		}, ErrZeroAmount},
		{"redeem zero", func() error {
			_, err := f.engine.Redeem(f.user, f.user, f.user, big.NewInt(0))
			return err
		}, ErrZeroAmount},
		{"deposit zero", func() error {
			_, err := f.engine.Deposit(f.user, f.user, big.NewInt(0))
			return err
		}, ErrZeroAmount},
		{"withdraw above entitlement", func() error {
			_, err := f.engine.Withdraw(f.user, f.user, f.user, big.NewInt(1001))
			return err
		}, ErrExceedsOwnerEntitlement},
		{"redeem above entitlement", func() error {
			_, err := f.engine.Redeem(f.user, f.user, f.user, big.NewInt(1001))
			return err
		}, ErrExceedsOwnerEntitlement},
		{"zero receiver", func() error {
			_, err := f.engine.Withdraw(f.user, common.Address{}, f.user, big.NewInt(1))
			return err
		}, ErrInvalidReceiver},
		{"spender without allowance", func() error {
			_, err := f.engine.Redeem(f.other, f.other, f.user, big.NewInt(10))
			return err
		}, ErrInsufficientAllowance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			supply, err := f.engine.TotalSupply()
			if err != nil {
				t.Fatalf("supply: %v", err)
			}
			expectAmount(t, "supply", supply, 1000)
		})
	}
}

func TestPlanWithdrawalFailsWithoutCapacity(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, week, 6000)
	f.deposit(t, f.user, 1000)

	active, err := f.engine.activeStrategies(f.state)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if _, err := f.engine.planWithdrawal(active, big.NewInt(1001)); !errors.Is(err, ErrInsufficientVaultLiquidity) {
		t.Fatalf("expected ErrInsufficientVaultLiquidity, got %v", err)
	}
	plan, err := f.engine.planWithdrawal(active, big.NewInt(1000))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	expectAmount(t, "instant", plan.instant, 400)
	expectAmount(t, "queued", plan.queuedTotal(), 600)
}

func TestRedeemOnBehalfSpendsAllowance(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 6000)
	f.deposit(t, f.user, 1000)

	if err := f.engine.Approve(f.user, f.other, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	res, err := f.engine.Redeem(f.other, f.other, f.user, big.NewInt(300))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectAmount(t, "assets", res.Assets, 300)
	expectAmount(t, "spender received", f.token.BalanceOf(f.other), 300)

	left, err := f.engine.Allowance(f.user, f.other)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	expectAmount(t, "allowance left", left, 0)
	if _, err := f.engine.Redeem(f.other, f.other, f.user, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestMaxWithdrawAndRedeem(t *testing.T) {
	f := newFixture(t)
	a := f.addMock(t, 0, 6000)
	f.addMock(t, week, 4000)
	f.deposit(t, f.user, 1000)
	if err := a.SetYieldMultiplier(big.NewInt(1_100_000_000_000_000_000)); err != nil {
		t.Fatalf("set multiplier: %v", err)
	}

	maxAssets, err := f.engine.MaxWithdraw(f.user)
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	expectAmount(t, "max withdraw", maxAssets, 1060)
	maxShares, err := f.engine.MaxRedeem(f.user)
	if err != nil {
		t.Fatalf("max redeem: %v", err)
	}
	expectAmount(t, "max redeem", maxShares, 1000)

	nobody, err := f.engine.MaxWithdraw(f.other)
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	expectAmount(t, "max withdraw without shares", nobody, 0)
}
