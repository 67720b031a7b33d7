package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseTable(t *testing.T) {
	table := NewPauseTable()
	if err := Guard(table, "vault"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table.SetPaused("vault", true)
	if err := Guard(table, "vault"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(table, "bank"); err != nil {
		t.Fatalf("unrelated module should not be paused: %v", err)
	}
	table.SetPaused("vault", false)
	if err := Guard(table, "vault"); err != nil {
		t.Fatalf("expected unpaused module, got %v", err)
	}
	if err := Guard(nil, "vault"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}

func TestReentrancyGuardFailsFast(t *testing.T) {
	var guard ReentrancyGuard
	release, err := guard.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if !guard.Active() {
		t.Fatalf("expected guard to be active")
	}
	if _, err := guard.Enter(); !errors.Is(err, ErrReentrancyDetected) {
		t.Fatalf("expected ErrReentrancyDetected, got %v", err)
	}
	release()
	if guard.Active() {
		t.Fatalf("expected guard released")
	}
	release2, err := guard.Enter()
	if err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
	release2()
}
