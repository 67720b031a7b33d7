package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
	"multivault/native/bank"
	"multivault/native/strategy"
)

type mockEngineState struct {
	totalShares *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int
	count       uint64
	strategies  map[uint64]*StrategyDescriptor
	reqCounts   map[common.Address]uint64
	requests    map[requestKey]*WithdrawalRequest
	paused      bool
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		totalShares: big.NewInt(0),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		strategies:  make(map[uint64]*StrategyDescriptor),
		reqCounts:   make(map[common.Address]uint64),
		requests:    make(map[requestKey]*WithdrawalRequest),
	}
}

func (m *mockEngineState) GetTotalShares() (*big.Int, error) {
	return new(big.Int).Set(m.totalShares), nil
}

func (m *mockEngineState) PutTotalShares(total *big.Int) error {
	m.totalShares = new(big.Int).Set(total)
	return nil
}

func (m *mockEngineState) GetShareBalance(owner common.Address) (*big.Int, error) {
	return cloneOrZero(m.balances[owner]), nil
}

func (m *mockEngineState) PutShareBalance(owner common.Address, balance *big.Int) error {
	m.balances[owner] = cloneOrZero(balance)
	return nil
}

func (m *mockEngineState) GetShareAllowance(owner, spender common.Address) (*big.Int, error) {
	return cloneOrZero(m.allowances[allowanceKey{owner, spender}]), nil
}

func (m *mockEngineState) PutShareAllowance(owner, spender common.Address, amount *big.Int) error {
	m.allowances[allowanceKey{owner, spender}] = cloneOrZero(amount)
	return nil
}

func (m *mockEngineState) GetStrategyCount() (uint64, error) { return m.count, nil }

func (m *mockEngineState) PutStrategyCount(count uint64) error {
	m.count = count
	return nil
}

func (m *mockEngineState) GetStrategy(id uint64) (*StrategyDescriptor, error) {
	return m.strategies[id].Clone(), nil
}

func (m *mockEngineState) PutStrategy(desc *StrategyDescriptor) error {
	m.strategies[desc.ID] = desc.Clone()
	return nil
}

func (m *mockEngineState) DeleteStrategy(id uint64) error {
	delete(m.strategies, id)
	return nil
}

func (m *mockEngineState) GetWithdrawalCount(owner common.Address) (uint64, error) {
	return m.reqCounts[owner], nil
}

func (m *mockEngineState) PutWithdrawalCount(owner common.Address, count uint64) error {
	m.reqCounts[owner] = count
	return nil
}

func (m *mockEngineState) GetWithdrawalRequest(owner common.Address, id uint64) (*WithdrawalRequest, error) {
	return m.requests[requestKey{owner, id}].Clone(), nil
}

func (m *mockEngineState) PutWithdrawalRequest(owner common.Address, req *WithdrawalRequest) error {
	m.requests[requestKey{owner, req.RequestID}] = req.Clone()
	return nil
}

func (m *mockEngineState) DeleteWithdrawalRequest(owner common.Address, id uint64) error {
	delete(m.requests, requestKey{owner, id})
	return nil
}

func (m *mockEngineState) GetPaused() (bool, error) { return m.paused, nil }

func (m *mockEngineState) PutPaused(paused bool) error {
	m.paused = paused
	return nil
}

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[0] = 0x5A
	addr[common.AddressLength-1] = b
	return addr
}

type fixture struct {
	engine   *Engine
	state    *mockEngineState
	token    *bank.Token
	recorder *events.Recorder
	now      time.Time

	vault   common.Address
	admin   common.Address
	manager common.Address
	user    common.Address
	other   common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:    newMockEngineState(),
		token:    bank.NewToken("usdc", 18),
		recorder: &events.Recorder{},
		now:      time.Unix(1_700_000_000, 0),
		vault:    makeAddress(0x01),
		admin:    makeAddress(0x02),
		manager:  makeAddress(0x03),
		user:     makeAddress(0x04),
		other:    makeAddress(0x05),
	}
	f.engine = NewEngine(f.vault, f.token, NewRoles(f.admin))
	f.engine.SetState(f.state)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetClock(f.clock)
	if err := f.engine.GrantRole(f.admin, RoleManager, f.manager); err != nil {
		t.Fatalf("grant manager: %v", err)
	}
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// addMock registers a mock strategy with the given lockup and weight.
func (f *fixture) addMock(t *testing.T, lockup time.Duration, bps uint64) *strategy.Mock {
	t.Helper()
	count, err := f.engine.StrategyCount()
	if err != nil {
		t.Fatalf("strategy count: %v", err)
	}
	mock := strategy.NewMock(makeAddress(0xA0+byte(count)), f.vault, f.token, lockup)
	mock.SetClock(f.clock)
	if _, err := f.engine.AddStrategy(f.manager, mock, bps); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	return mock
}

// fund mints amount to account and approves the vault to pull it.
func (f *fixture) fund(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	if err := f.token.Mint(account, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	allowance := new(big.Int).Add(f.token.Allowance(account, f.vault), amount)
	if err := f.token.Approve(account, f.vault, allowance); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) deposit(t *testing.T, account common.Address, amount int64) *big.Int {
	t.Helper()
	assets := big.NewInt(amount)
	f.fund(t, account, assets)
	shares, err := f.engine.Deposit(account, account, assets)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return shares
}

func (f *fixture) totalAssets(t *testing.T) *big.Int {
	t.Helper()
	total, err := f.engine.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	return total
}

func expectAmount(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", label, want, got)
	}
}
