package bank

import (
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrZeroAddress           = errors.New("bank: zero address")
)

// Token is an in-memory fungible asset with balances and spending allowances.
// It is the deposit asset the vault pulls from depositors and pushes to
// receivers. Every mutation either applies completely or returns an error.
type Token struct {
	mu         sync.RWMutex
	symbol     string
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewToken constructs an empty token ledger.
func NewToken(symbol string, decimals uint8) *Token {
	return &Token{
		symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		decimals:   decimals,
		supply:     big.NewInt(0),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() uint8 { return t.decimals }

func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.supply)
}

// BalanceOf returns a copy of the account balance.
func (t *Token) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceLocked(addr)
}

// Allowance returns the amount spender may still move on behalf of owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if byOwner, ok := t.allowances[owner]; ok {
		if v, ok := byOwner[spender]; ok {
			return new(big.Int).Set(v)
		}
	}
	return big.NewInt(0)
}

// Approve overwrites the allowance granted by owner to spender. A zero amount
// revokes it.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	byOwner, ok := t.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		t.allowances[owner] = byOwner
	}
	if amount.Sign() == 0 {
		delete(byOwner, spender)
		return nil
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

// Mint creates new units for the recipient.
func (t *Token) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
	return nil
}

// Burn destroys units held by from.
func (t *Token) Burn(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.setBalanceLocked(from, balance.Sub(balance, amount))
	t.supply = new(big.Int).Sub(t.supply, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

// TransferFrom moves amount out of from's balance using the allowance granted
// to spender. The allowance is reduced by the transferred amount.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var allowance *big.Int
	if spender != from {
		allowance = big.NewInt(0)
		if byOwner, ok := t.allowances[from]; ok && byOwner[spender] != nil {
			allowance = byOwner[spender]
		}
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
	}
	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}
	if allowance != nil {
		remaining := new(big.Int).Sub(allowance, amount)
		if remaining.Sign() == 0 {
			delete(t.allowances[from], spender)
		} else {
			t.allowances[from][spender] = remaining
		}
	}
	return nil
}

func (t *Token) transferLocked(from, to common.Address, amount *big.Int) error {
	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.setBalanceLocked(from, balance.Sub(balance, amount))
	t.setBalanceLocked(to, new(big.Int).Add(t.balanceLocked(to), amount))
	return nil
}

func (t *Token) balanceLocked(addr common.Address) *big.Int {
	if v, ok := t.balances[addr]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (t *Token) setBalanceLocked(addr common.Address, v *big.Int) {
	if v.Sign() == 0 {
		delete(t.balances, addr)
		return
	}
	t.balances[addr] = v
}

// TokenState is the RLP-friendly export of the ledger contents.
type TokenState struct {
	Balances   []BalanceEntry
	Allowances []AllowanceEntry
}

type BalanceEntry struct {
	Account common.Address
	Amount  *big.Int
}

type AllowanceEntry struct {
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// ExportState returns a deterministic copy of all balances and allowances.
func (t *Token) ExportState() TokenState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := TokenState{}
	for addr, bal := range t.balances {
		out.Balances = append(out.Balances, BalanceEntry{Account: addr, Amount: new(big.Int).Set(bal)})
	}
	for owner, byOwner := range t.allowances {
		for spender, amount := range byOwner {
			out.Allowances = append(out.Allowances, AllowanceEntry{Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
		}
	}
	sort.Slice(out.Balances, func(i, j int) bool {
		return out.Balances[i].Account.Cmp(out.Balances[j].Account) < 0
	})
	sort.Slice(out.Allowances, func(i, j int) bool {
		if c := out.Allowances[i].Owner.Cmp(out.Allowances[j].Owner); c != 0 {
			return c < 0
		}
		return out.Allowances[i].Spender.Cmp(out.Allowances[j].Spender) < 0
	})
	return out
}

// ImportState replaces the ledger contents with a previously exported state.
func (t *Token) ImportState(state TokenState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[common.Address]*big.Int, len(state.Balances))
	t.allowances = make(map[common.Address]map[common.Address]*big.Int)
	t.supply = big.NewInt(0)
	for _, entry := range state.Balances {
		if entry.Amount == nil || entry.Amount.Sign() <= 0 {
			continue
		}
		t.balances[entry.Account] = new(big.Int).Set(entry.Amount)
		t.supply.Add(t.supply, entry.Amount)
	}
	for _, entry := range state.Allowances {
		if entry.Amount == nil || entry.Amount.Sign() <= 0 {
			continue
		}
		byOwner, ok := t.allowances[entry.Owner]
		if !ok {
			byOwner = make(map[common.Address]*big.Int)
			t.allowances[entry.Owner] = byOwner
		}
		byOwner[entry.Spender] = new(big.Int).Set(entry.Amount)
	}
}
