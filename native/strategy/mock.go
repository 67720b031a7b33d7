package strategy

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount      = errors.New("strategy: amount must be positive")
	ErrInsufficientAssets = errors.New("strategy: amount exceeds strategy assets")
	ErrTicketNotFound     = errors.New("strategy: withdrawal ticket not found")
	ErrTicketClaimed      = errors.New("strategy: withdrawal ticket already claimed")
	ErrTicketLocked       = errors.New("strategy: withdrawal ticket still locked")
	ErrInvalidMultiplier  = errors.New("strategy: yield multiplier must be positive")
)

// WAD is the fixed-point scale of the yield multiplier.
var WAD = big.NewInt(1_000_000_000_000_000_000)

// Token is the ledger a Mock settles against. Mint covers realised yield.
type Token interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
	Mint(to common.Address, amount *big.Int) error
}

type ticket struct {
	amount   *big.Int
	unlockAt time.Time
	claimed  bool
}

// Mock is a simulated yield source. Its value is principal scaled by a
// configurable multiplier; appreciation is minted into the strategy account
// when it is realised. With a lockup, nothing is instantly withdrawable and
// every exit goes through a ticket that unlocks after the lockup period.
type Mock struct {
	mu         sync.Mutex
	address    common.Address
	owner      common.Address
	token      Token
	hasLockup  bool
	lockup     time.Duration
	multiplier *big.Int
	units      *big.Int
	tickets    map[common.Address][]*ticket
	now        func() time.Time
}

// NewMock constructs a strategy at address that pays owner. A zero lockup
// makes all holdings instantly withdrawable.
func NewMock(address, owner common.Address, token Token, lockup time.Duration) *Mock {
	if lockup < 0 {
		lockup = 0
	}
	return &Mock{
		address:    address,
		owner:      owner,
		token:      token,
		hasLockup:  lockup > 0,
		lockup:     lockup,
		multiplier: new(big.Int).Set(WAD),
		units:      big.NewInt(0),
		tickets:    make(map[common.Address][]*ticket),
		now:        time.Now,
	}
}

func (m *Mock) Address() common.Address { return m.address }
func (m *Mock) HasLockup() bool         { return m.hasLockup }
func (m *Mock) Lockup() time.Duration   { return m.lockup }

// SetClock overrides the time source used for ticket unlocks.
func (m *Mock) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetYieldMultiplier rescales the strategy's value; WAD means no yield.
func (m *Mock) SetYieldMultiplier(multiplier *big.Int) error {
	if multiplier == nil || multiplier.Sign() <= 0 {
		return ErrInvalidMultiplier
	}
	m.mu.Lock()
	m.multiplier = new(big.Int).Set(multiplier)
	m.mu.Unlock()
	return nil
}

// YieldMultiplier returns the current multiplier.
func (m *Mock) YieldMultiplier() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.multiplier)
}

// MultiplierFromBps converts a yield in basis points to a WAD multiplier.
func MultiplierFromBps(bps uint64) *big.Int {
	out := new(big.Int).SetUint64(10_000 + bps)
	out.Mul(out, WAD)
	return out.Quo(out, big.NewInt(10_000))
}

func (m *Mock) TotalAssets() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valueLocked()
}

func (m *Mock) Withdrawable() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasLockup {
		return big.NewInt(0)
	}
	return m.valueLocked()
}

// Deposit credits capital that was already transferred to the strategy
// address.
func (m *Mock) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	units := new(big.Int).Mul(amount, WAD)
	units.Quo(units, m.multiplier)
	m.units.Add(m.units, units)
	return nil
}

// Withdraw pays up to amount to the owner. Locked strategies pay nothing.
func (m *Mock) Withdraw(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasLockup {
		return big.NewInt(0), nil
	}
	pay := new(big.Int).Set(amount)
	if value := m.valueLocked(); pay.Cmp(value) > 0 {
		pay = value
	}
	if pay.Sign() == 0 {
		return pay, nil
	}
	m.reduceLocked(pay)
	if err := m.payLocked(pay); err != nil {
		return nil, err
	}
	return pay, nil
}

// RequestWithdrawal reserves amount for owner and returns the ticket id.
// The reserved amount stops counting towards TotalAssets immediately.
func (m *Mock) RequestWithdrawal(owner common.Address, amount *big.Int) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount.Cmp(m.valueLocked()) > 0 {
		return 0, ErrInsufficientAssets
	}
	m.reduceLocked(amount)
	id := uint64(len(m.tickets[owner]))
	m.tickets[owner] = append(m.tickets[owner], &ticket{
		amount:   new(big.Int).Set(amount),
		unlockAt: m.now().Add(m.lockup),
	})
	return id, nil
}

// PendingWithdrawal returns the ticket amount once unlocked and unclaimed.
func (m *Mock) PendingWithdrawal(owner common.Address, requestID uint64) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ticketLocked(owner, requestID)
	if t == nil || t.claimed || m.now().Before(t.unlockAt) {
		return big.NewInt(0)
	}
	return new(big.Int).Set(t.amount)
}

// ClaimWithdrawal pays an unlocked ticket to the strategy owner.
func (m *Mock) ClaimWithdrawal(owner common.Address, requestID uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ticketLocked(owner, requestID)
	switch {
	case t == nil:
		return nil, ErrTicketNotFound
	case t.claimed:
		return nil, ErrTicketClaimed
	case m.now().Before(t.unlockAt):
		return nil, ErrTicketLocked
	}
	if err := m.payLocked(t.amount); err != nil {
		return nil, err
	}
	t.claimed = true
	return new(big.Int).Set(t.amount), nil
}

// CancelWithdrawal voids an unclaimed ticket and credits its amount back to
// the strategy. The newest ticket is dropped so its id is reused; older ones
// stay in place, emptied and marked claimed.
func (m *Mock) CancelWithdrawal(owner common.Address, requestID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ticketLocked(owner, requestID)
	switch {
	case t == nil:
		return ErrTicketNotFound
	case t.claimed:
		return ErrTicketClaimed
	}
	units := new(big.Int).Mul(t.amount, WAD)
	units.Quo(units, m.multiplier)
	m.units.Add(m.units, units)
	if list := m.tickets[owner]; requestID == uint64(len(list)-1) {
		m.tickets[owner] = list[:len(list)-1]
		return nil
	}
	t.amount = big.NewInt(0)
	t.claimed = true
	return nil
}

func (m *Mock) ticketLocked(owner common.Address, id uint64) *ticket {
	list := m.tickets[owner]
	if id >= uint64(len(list)) {
		return nil
	}
	return list[id]
}

func (m *Mock) valueLocked() *big.Int {
	v := new(big.Int).Mul(m.units, m.multiplier)
	return v.Quo(v, WAD)
}

// reduceLocked burns the units backing value, rounding against the caller.
func (m *Mock) reduceLocked(value *big.Int) {
	units := new(big.Int).Mul(value, WAD)
	units.Add(units, new(big.Int).Sub(m.multiplier, big.NewInt(1)))
	units.Quo(units, m.multiplier)
	if units.Cmp(m.units) > 0 {
		units.Set(m.units)
	}
	m.units.Sub(m.units, units)
}

// payLocked transfers amount to the owner, minting any realised yield the
// strategy account does not yet hold.
func (m *Mock) payLocked(amount *big.Int) error {
	held := m.token.BalanceOf(m.address)
	if held.Cmp(amount) < 0 {
		if err := m.token.Mint(m.address, new(big.Int).Sub(amount, held)); err != nil {
			return err
		}
	}
	return m.token.Transfer(m.address, m.owner, amount)
}

// MockState is the RLP-friendly export of a Mock.
type MockState struct {
	Multiplier *big.Int
	Units      *big.Int
	Tickets    []TicketEntry
}

type TicketEntry struct {
	Owner    common.Address
	ID       uint64
	Amount   *big.Int
	UnlockAt uint64
	Claimed  bool
}

// ExportState returns the strategy's holdings and tickets.
func (m *Mock) ExportState() MockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MockState{
		Multiplier: new(big.Int).Set(m.multiplier),
		Units:      new(big.Int).Set(m.units),
	}
	for owner, list := range m.tickets {
		for id, t := range list {
			out.Tickets = append(out.Tickets, TicketEntry{
				Owner:    owner,
				ID:       uint64(id),
				Amount:   new(big.Int).Set(t.amount),
				UnlockAt: uint64(t.unlockAt.Unix()),
				Claimed:  t.claimed,
			})
		}
	}
	sort.Slice(out.Tickets, func(i, j int) bool {
		if c := out.Tickets[i].Owner.Cmp(out.Tickets[j].Owner); c != 0 {
			return c < 0
		}
		return out.Tickets[i].ID < out.Tickets[j].ID
	})
	return out
}

// ImportState replaces the strategy's holdings and tickets.
func (m *Mock) ImportState(state MockState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Multiplier != nil && state.Multiplier.Sign() > 0 {
		m.multiplier = new(big.Int).Set(state.Multiplier)
	}
	m.units = big.NewInt(0)
	if state.Units != nil {
		m.units.Set(state.Units)
	}
	m.tickets = make(map[common.Address][]*ticket)
	for _, entry := range state.Tickets {
		list := m.tickets[entry.Owner]
		if entry.ID != uint64(len(list)) {
			return ErrTicketNotFound
		}
		amount := big.NewInt(0)
		if entry.Amount != nil {
			amount.Set(entry.Amount)
		}
		m.tickets[entry.Owner] = append(list, &ticket{
			amount:   amount,
			unlockAt: time.Unix(int64(entry.UnlockAt), 0),
			claimed:  entry.Claimed,
		})
	}
	return nil
}
