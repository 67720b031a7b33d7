package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"multivault/core/events"
)

func TestClaimLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 6000)
	f.addMock(t, week, 4000)
	f.deposit(t, f.user, 1000)

	if _, err := f.engine.Withdraw(f.user, f.other, f.user, big.NewInt(800)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	receiverBefore := f.token.BalanceOf(f.other)

	if _, err := f.engine.ClaimWithdrawal(f.user, 0); !errors.Is(err, ErrClaimNotYetAvailable) {
		t.Fatalf("expected ErrClaimNotYetAvailable, got %v", err)
	}
	ok, err := f.engine.IsClaimable(f.user, 0)
	if err != nil {
		t.Fatalf("is claimable: %v", err)
	}
	if ok {
		t.Fatalf("request claimable before lockup elapsed")
	}

	f.advance(week - time.Second)
	if _, err := f.engine.ClaimWithdrawal(f.user, 0); !errors.Is(err, ErrClaimNotYetAvailable) {
		t.Fatalf("expected ErrClaimNotYetAvailable one second early, got %v", err)
	}

	f.advance(time.Second)
	if ok, err = f.engine.IsClaimable(f.user, 0); err != nil || !ok {
		t.Fatalf("expected claimable after lockup, got %v %v", ok, err)
	}
	paid, err := f.engine.ClaimWithdrawal(f.user, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "claimed", paid, 200)
	received := new(big.Int).Sub(f.token.BalanceOf(f.other), receiverBefore)
	expectAmount(t, "receiver credited", received, 200)

	if _, err := f.engine.ClaimWithdrawal(f.user, 0); !errors.Is(err, ErrWithdrawalAlreadyClaimed) {
		t.Fatalf("expected ErrWithdrawalAlreadyClaimed, got %v", err)
	}
	if _, err := f.engine.ClaimWithdrawal(f.user, 1); !errors.Is(err, ErrWithdrawalRequestNotFound) {
		t.Fatalf("expected ErrWithdrawalRequestNotFound, got %v", err)
	}
	if _, err := f.engine.ClaimWithdrawal(f.other, 0); !errors.Is(err, ErrWithdrawalRequestNotFound) {
		t.Fatalf("requests must be scoped to their owner, got %v", err)
	}

	info, err := f.engine.PendingWithdrawalInfo(f.user, 0)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.Claimed || info.Claimable {
		t.Fatalf("unexpected info after claim %+v", info)
	}
	pending, err := f.engine.PendingWithdrawals(f.user)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending requests, got %d", len(pending))
	}
	if got := len(f.recorder.OfType(events.TypeVaultWithdrawalClaimed)); got != 1 {
		t.Fatalf("expected 1 claim event, got %d", got)
	}
}

func TestClaimIgnoresYieldAccruedAfterRequest(t *testing.T) {
	f := newFixture(t)
	locked := f.addMock(t, week, 8000)
	f.deposit(t, f.user, 1000)

	if _, err := f.engine.Withdraw(f.user, f.user, f.user, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := locked.SetYieldMultiplier(big.NewInt(2_000_000_000_000_000_000)); err != nil {
		t.Fatalf("set multiplier: %v", err)
	}
	f.advance(week)
	paid, err := f.engine.ClaimWithdrawal(f.user, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "claim pays reserved amount", paid, 300)
}

func TestClaimAllowedWhilePaused(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, week, 5000)
	f.deposit(t, f.user, 1000)
	if _, err := f.engine.Withdraw(f.user, f.user, f.user, big.NewInt(800)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := f.engine.Pause(f.manager); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.advance(week)
	if _, err := f.engine.ClaimWithdrawal(f.user, 0); err != nil {
		t.Fatalf("claim while paused: %v", err)
	}
}
