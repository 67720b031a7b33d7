package server

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"multivault/config"
	"multivault/core/events"
	"multivault/native/vault"
	"multivault/observability/metrics"
	"multivault/storage"
)

type recorder struct{ events []events.Event }

func (r *recorder) Emit(ev events.Event) { r.events = append(r.events, ev) }

type harness struct {
	cfg   *config.Config
	db    *storage.MemDB
	now   time.Time
	svc   *Service
	rec   *recorder
	admin common.Address
	user  common.Address
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Strategies = []config.StrategyConfig{
		{Name: "liquid", Address: "0x00000000000000000000000000000000000000a1", AllocationBps: 6000},
		{Name: "locked", Address: "0x00000000000000000000000000000000000000a2", AllocationBps: 4000, Lockup: 24 * time.Hour},
	}
	cfg.Faucet.MaxAmount = "5000"
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:  testConfig(),
		db:   storage.NewMemDB(),
		now:  time.Unix(1_700_000_000, 0),
		user: common.HexToAddress("0x0000000000000000000000000000000000000004"),
	}
	h.admin = h.cfg.AdminAddr()
	h.svc = h.open(t)
	return h
}

func (h *harness) open(t *testing.T) *Service {
	t.Helper()
	h.rec = &recorder{}
	svc, err := New(Options{
		Config:  h.cfg,
		DB:      h.db,
		Emitter: h.rec,
		Metrics: metrics.NewVaultMetrics(prometheus.NewRegistry()),
		Clock:   func() time.Time { return h.now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func (h *harness) fund(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()
	if err := h.svc.Faucet(ctx, h.user, big.NewInt(amount)); err != nil {
		t.Fatalf("faucet: %v", err)
	}
	if err := h.svc.ApproveAsset(ctx, h.user, big.NewInt(amount)); err != nil {
		t.Fatalf("approve asset: %v", err)
	}
}

func expectInt(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", label, want, got)
	}
}

func TestBootstrapRegistersConfiguredStrategies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	infos, err := h.svc.Strategies(ctx)
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(infos))
	}
	if infos[0].AllocationBps != 6000 || infos[0].HasLockup {
		t.Fatalf("unexpected liquid strategy: %+v", infos[0])
	}
	if infos[1].AllocationBps != 4000 || !infos[1].HasLockup {
		t.Fatalf("unexpected locked strategy: %+v", infos[1])
	}
	if !h.svc.HasRole(vault.RoleManager, h.admin) {
		t.Fatalf("admin should hold the manager role after bootstrap")
	}
	if len(h.rec.events) != 0 {
		t.Fatalf("bootstrap must not emit events, got %d", len(h.rec.events))
	}
}

func TestDepositWithdrawClaimFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, 1000)

	shares, err := h.svc.Deposit(ctx, h.user, h.user, big.NewInt(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expectInt(t, "shares", shares, 1000)

	summary, err := h.svc.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	expectInt(t, "total assets", summary.TotalAssets, 1000)
	expectInt(t, "idle", summary.IdleBalance, 0)
	expectInt(t, "liquidity", summary.Liquidity, 600)

	res, err := h.svc.Withdraw(ctx, h.user, h.user, h.user, big.NewInt(800))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectInt(t, "instant", res.Instant, 600)
	expectInt(t, "queued", res.Queued, 200)
	if len(res.Requests) != 1 || res.Requests[0] != 0 {
		t.Fatalf("expected request 0, got %v", res.Requests)
	}

	_, err = h.svc.Claim(ctx, h.user, 0)
	if !errors.Is(err, vault.ErrClaimNotYetAvailable) {
		t.Fatalf("expected ErrClaimNotYetAvailable, got %v", err)
	}
	if status, _ := Classify(err); status != http.StatusTooEarly {
		t.Fatalf("expected 425, got %d", status)
	}

	h.now = h.now.Add(24 * time.Hour)
	paid, err := h.svc.Claim(ctx, h.user, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectInt(t, "paid", paid, 200)

	acct, err := h.svc.Account(ctx, h.user)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	expectInt(t, "asset balance", acct.AssetBalance, 800)
	expectInt(t, "shares left", acct.Shares, 200)
	if len(acct.Withdrawals) != 0 {
		t.Fatalf("claimed requests must not be pending, got %d", len(acct.Withdrawals))
	}
}

func TestServiceSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, 1000)
	if _, err := h.svc.Deposit(ctx, h.user, h.user, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.svc.Withdraw(ctx, h.user, h.user, h.user, big.NewInt(800)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	manager := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	if err := h.svc.SetRole(ctx, h.admin, vault.RoleManager, manager, true); err != nil {
		t.Fatalf("grant: %v", err)
	}

	restarted := h.open(t)
	summary, err := restarted.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	expectInt(t, "total assets", summary.TotalAssets, 200)
	expectInt(t, "supply", summary.TotalSupply, 200)
	if summary.StrategyCount != 2 {
		t.Fatalf("expected 2 strategies, got %d", summary.StrategyCount)
	}
	if !restarted.HasRole(vault.RoleManager, manager) {
		t.Fatalf("granted role lost across restart")
	}

	h.now = h.now.Add(24 * time.Hour)
	paid, err := restarted.Claim(ctx, h.user, 0)
	if err != nil {
		t.Fatalf("claim after restart: %v", err)
	}
	expectInt(t, "paid", paid, 200)
	balance, err := restarted.AssetBalance(ctx, h.user)
	if err != nil {
		t.Fatalf("asset balance: %v", err)
	}
	expectInt(t, "asset balance", balance, 800)
}

func TestFaucetLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Faucet(ctx, h.user, big.NewInt(5001)); !errors.Is(err, ErrFaucetLimit) {
		t.Fatalf("expected ErrFaucetLimit, got %v", err)
	}
	if err := h.svc.Faucet(ctx, h.user, big.NewInt(0)); !errors.Is(err, vault.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	h.svc.faucetEnabled = false
	if err := h.svc.Faucet(ctx, h.user, big.NewInt(1)); !errors.Is(err, ErrFaucetDisabled) {
		t.Fatalf("expected ErrFaucetDisabled, got %v", err)
	}
}

func TestAddStrategyRollsBackRejectedMock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a3")

	_, err := h.svc.AddStrategy(ctx, h.admin, NewStrategy{Address: addr, AllocationBps: 1000})
	if !errors.Is(err, vault.ErrAllocationSumExceeded) {
		t.Fatalf("expected ErrAllocationSumExceeded, got %v", err)
	}
	if _, ok := h.svc.mocks[addr]; ok {
		t.Fatalf("rejected strategy left behind")
	}
	if _, err := h.svc.AddStrategy(ctx, h.user, NewStrategy{Address: addr}); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := h.svc.UpdateAllocation(ctx, h.admin, 0, 5000); err != nil {
		t.Fatalf("update allocation: %v", err)
	}
	id, err := h.svc.AddStrategy(ctx, h.admin, NewStrategy{Address: addr, AllocationBps: 1000, Lockup: time.Hour})
	if err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}
	if _, err := h.svc.AddStrategy(ctx, h.admin, NewStrategy{Address: addr}); !errors.Is(err, vault.ErrStrategyExists) {
		t.Fatalf("expected ErrStrategyExists, got %v", err)
	}

	restarted := h.open(t)
	info, err := restarted.Strategy(ctx, 2)
	if err != nil {
		t.Fatalf("strategy after restart: %v", err)
	}
	if info.Address != addr || !info.HasLockup {
		t.Fatalf("unexpected restored strategy: %+v", info)
	}
}

func TestSetStrategyYieldRequiresManager(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, 1000)
	if _, err := h.svc.Deposit(ctx, h.user, h.user, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.svc.SetStrategyYield(ctx, h.user, 0, 1000); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.svc.SetStrategyYield(ctx, h.admin, 0, 1000); err != nil {
		t.Fatalf("set yield: %v", err)
	}
	summary, err := h.svc.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	expectInt(t, "total with yield", summary.TotalAssets, 1060)
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, op := range []string{PreviewDeposit, PreviewWithdraw, PreviewRedeem} {
		got, err := h.svc.Preview(ctx, op, big.NewInt(100))
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		expectInt(t, op, got, 100)
	}
	if _, err := h.svc.Preview(ctx, "mint", big.NewInt(1)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCancelledContextIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.svc.Deposit(ctx, h.user, h.user, big.NewInt(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{vault.ErrZeroAmount, http.StatusBadRequest, CodeInvalidArgument},
		{fmt.Errorf("%w: 0xabc", vault.ErrStrategyExists), http.StatusConflict, CodeConflict},
		{vault.ErrUnauthorized, http.StatusForbidden, CodePermission},
		{vault.ErrWithdrawalRequestNotFound, http.StatusNotFound, CodeNotFound},
		{vault.ErrVaultPaused, http.StatusServiceUnavailable, CodeUnavailable},
		{vault.ErrInsufficientVaultLiquidity, http.StatusUnprocessableEntity, CodeLiquidity},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("Classify(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
	if msg := PublicMessage(errors.New("disk on fire")); msg != "internal error" {
		t.Fatalf("internal error leaked: %q", msg)
	}
}
