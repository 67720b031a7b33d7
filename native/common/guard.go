package common

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrModulePaused       = errors.New("module paused")
	ErrReentrancyDetected = errors.New("reentrant call detected")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseTable is an in-memory PauseView whose switches can be flipped at runtime.
type PauseTable struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseTable() *PauseTable {
	return &PauseTable{paused: make(map[string]bool)}
}

func (t *PauseTable) IsPaused(module string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused[module]
}

func (t *PauseTable) SetPaused(module string, paused bool) {
	if t == nil || module == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if paused {
		t.paused[module] = true
		return
	}
	delete(t.paused, module)
}

// ReentrancyGuard fails fast when a guarded section is entered while another
// one is still in progress.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the guarded section as active. The returned release function must
// be called exactly once.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrancyDetected
	}
	return func() { g.entered.Store(false) }, nil
}

// Active reports whether a guarded section is running.
func (g *ReentrancyGuard) Active() bool {
	return g.entered.Load()
}
