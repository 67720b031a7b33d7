package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"multivault/core/events"
	"multivault/native/strategy"
)

func TestAddStrategyValidation(t *testing.T) {
	f := newFixture(t)
	mock := func(b byte) *strategy.Mock {
		return strategy.NewMock(makeAddress(b), f.vault, f.token, 0)
	}

	if _, err := f.engine.AddStrategy(f.user, mock(0xB0), 1000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.AddStrategy(f.manager, mock(0xB0), MaxStrategyAllocationBps+1); !errors.Is(err, ErrAllocationCapExceeded) {
		t.Fatalf("expected ErrAllocationCapExceeded, got %v", err)
	}
	first := mock(0xB0)
	id, err := f.engine.AddStrategy(f.manager, first, 8000)
	if err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected id 0, got %d", id)
	}
	if _, err := f.engine.AddStrategy(f.manager, first, 1000); !errors.Is(err, ErrStrategyExists) {
		t.Fatalf("expected ErrStrategyExists, got %v", err)
	}
	if _, err := f.engine.AddStrategy(f.manager, mock(0xB1), 2001); !errors.Is(err, ErrAllocationSumExceeded) {
		t.Fatalf("expected ErrAllocationSumExceeded, got %v", err)
	}
	id, err = f.engine.AddStrategy(f.manager, mock(0xB1), 2000)
	if err != nil {
		t.Fatalf("add second strategy: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	count, err := f.engine.StrategyCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 strategies, got %d", count)
	}
	if got := len(f.recorder.OfType(events.TypeVaultStrategyAdded)); got != 2 {
		t.Fatalf("expected 2 strategyAdded events, got %d", got)
	}
}

func TestUpdateAllocationReplacesWeight(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 6000)
	f.addMock(t, 0, 4000)

	if err := f.engine.UpdateAllocation(f.user, 0, 5000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.UpdateAllocation(f.manager, 0, 8001); !errors.Is(err, ErrAllocationCapExceeded) {
		t.Fatalf("expected ErrAllocationCapExceeded, got %v", err)
	}
	if err := f.engine.UpdateAllocation(f.manager, 1, 4001); !errors.Is(err, ErrAllocationSumExceeded) {
		t.Fatalf("expected ErrAllocationSumExceeded, got %v", err)
	}
	if err := f.engine.UpdateAllocation(f.manager, 7, 100); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
	if err := f.engine.UpdateAllocation(f.manager, 0, 5000); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.engine.UpdateAllocation(f.manager, 1, 5000); err != nil {
		t.Fatalf("update: %v", err)
	}
	info, err := f.engine.StrategyInfo(1)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.AllocationBps != 5000 {
		t.Fatalf("expected 5000 bps, got %d", info.AllocationBps)
	}
	updates := f.recorder.OfType(events.TypeVaultAllocationUpdated)
	if len(updates) != 2 {
		t.Fatalf("expected 2 allocation events, got %d", len(updates))
	}
	last := updates[1].(events.VaultAllocationUpdated)
	if last.OldBps != 4000 || last.NewBps != 5000 {
		t.Fatalf("unexpected allocation event %+v", last)
	}
}

func TestSetAllocationsValidatesWholeVector(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 8000)
	f.addMock(t, 0, 2000)

	// Raising the second weight first would breach the sum on its own.
	if err := f.engine.UpdateAllocation(f.manager, 1, 6000); !errors.Is(err, ErrAllocationSumExceeded) {
		t.Fatalf("expected ErrAllocationSumExceeded, got %v", err)
	}
	err := f.engine.SetAllocations(f.manager, []AllocationUpdate{
		{StrategyID: 1, AllocationBps: 6000},
		{StrategyID: 0, AllocationBps: 4000},
	})
	if err != nil {
		t.Fatalf("set allocations: %v", err)
	}
	infos, err := f.engine.Strategies()
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	if infos[0].AllocationBps != 4000 || infos[1].AllocationBps != 6000 {
		t.Fatalf("unexpected weights %d/%d", infos[0].AllocationBps, infos[1].AllocationBps)
	}

	cases := []struct {
		name    string
		updates []AllocationUpdate
		want    error
	}{
		{name: "empty", updates: nil, want: ErrInvalidAllocation},
		{name: "duplicate", updates: []AllocationUpdate{{0, 1000}, {0, 2000}}, want: ErrInvalidAllocation},
		{name: "unknown", updates: []AllocationUpdate{{0, 1000}, {9, 1000}}, want: ErrInvalidAllocation},
		{name: "cap", updates: []AllocationUpdate{{0, 8500}, {1, 1000}}, want: ErrAllocationCapExceeded},
		{name: "sum", updates: []AllocationUpdate{{0, 8000}, {1, 8000}}, want: ErrAllocationSumExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.engine.SetAllocations(f.manager, tc.updates); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			infos, err := f.engine.Strategies()
			if err != nil {
				t.Fatalf("strategies: %v", err)
			}
			if infos[0].AllocationBps != 4000 || infos[1].AllocationBps != 6000 {
				t.Fatalf("weights changed by rejected batch: %d/%d", infos[0].AllocationBps, infos[1].AllocationBps)
			}
		})
	}
}

func TestActiveWeightsNeverExceedFullAllocation(t *testing.T) {
	f := newFixture(t)
	f.addMock(t, 0, 5000)
	f.addMock(t, 0, 3000)
	f.addMock(t, 0, 2000)

	attempts := [][]AllocationUpdate{
		{{0, 6000}},
		{{1, 5000}, {2, 1000}},
		{{2, 8000}},
		{{0, 2000}, {1, 2000}, {2, 6000}},
	}
	for _, batch := range attempts {
		_ = f.engine.SetAllocations(f.manager, batch)
		infos, err := f.engine.Strategies()
		if err != nil {
			t.Fatalf("strategies: %v", err)
		}
		var sum uint64
		for _, info := range infos {
			if info.AllocationBps > MaxStrategyAllocationBps {
				t.Fatalf("strategy %d above cap: %d", info.ID, info.AllocationBps)
			}
			if info.Active {
				sum += info.AllocationBps
			}
		}
		if sum > MaxBasisPoints {
			t.Fatalf("active weights sum to %d", sum)
		}
	}
}

func TestDeactivateRequiresDrainableStrategy(t *testing.T) {
	f := newFixture(t)
	liquid := f.addMock(t, 0, 6000)
	locked := f.addMock(t, 7*24*time.Hour, 4000)
	f.deposit(t, f.user, 1000)

	if err := f.engine.DeactivateStrategy(f.manager, 1); !errors.Is(err, ErrStrategyNotDrained) {
		t.Fatalf("expected ErrStrategyNotDrained, got %v", err)
	}
	if err := f.engine.DeactivateStrategy(f.manager, 0); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if liquid.TotalAssets().Sign() != 0 {
		t.Fatalf("expected liquid strategy drained, got %s", liquid.TotalAssets())
	}
	idle, err := f.engine.IdleBalance()
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	expectAmount(t, "idle", idle, 600)
	expectAmount(t, "total assets", f.totalAssets(t), 1000)
	expectAmount(t, "locked strategy", locked.TotalAssets(), 400)

	info, err := f.engine.StrategyInfo(0)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Active {
		t.Fatalf("expected strategy 0 inactive")
	}

	// New deposits skip the inactive entry.
	f.deposit(t, f.other, 100)
	expectAmount(t, "locked strategy", locked.TotalAssets(), 440)
	expectAmount(t, "liquid strategy", liquid.TotalAssets(), 0)

	if err := f.engine.UpdateAllocation(f.manager, 1, 8000); err != nil {
		t.Fatalf("raise weight: %v", err)
	}
	if err := f.engine.ActivateStrategy(f.manager, 0); !errors.Is(err, ErrAllocationSumExceeded) {
		t.Fatalf("expected ErrAllocationSumExceeded, got %v", err)
	}
	if err := f.engine.UpdateAllocation(f.manager, 0, 2000); err != nil {
		t.Fatalf("lower inactive weight: %v", err)
	}
	if err := f.engine.ActivateStrategy(f.manager, 0); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := len(f.recorder.OfType(events.TypeVaultStrategyStatus)); got != 2 {
		t.Fatalf("expected 2 status events, got %d", got)
	}
}

func TestStrategyInfoReportsLiveBalances(t *testing.T) {
	f := newFixture(t)
	a := f.addMock(t, 0, 6000)
	f.addMock(t, 7*24*time.Hour, 4000)
	f.deposit(t, f.user, 1000)
	if err := a.SetYieldMultiplier(big.NewInt(1_100_000_000_000_000_000)); err != nil {
		t.Fatalf("set multiplier: %v", err)
	}

	info, err := f.engine.StrategyInfo(0)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Address != a.Address() || !info.Active || info.HasLockup {
		t.Fatalf("unexpected info %+v", info)
	}
	expectAmount(t, "strategy assets", info.TotalAssets, 660)
	expectAmount(t, "strategy withdrawable", info.Withdrawable, 660)

	locked, err := f.engine.StrategyInfo(1)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !locked.HasLockup {
		t.Fatalf("expected lockup flag on strategy 1")
	}
	expectAmount(t, "locked withdrawable", locked.Withdrawable, 0)

	if _, err := f.engine.StrategyInfo(2); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
}
