package vault

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"multivault/core/events"
)

// Roles is the authorization table held by a vault instance.
type Roles struct {
	mu      sync.RWMutex
	members map[Role]map[common.Address]struct{}
}

// NewRoles seeds the table with admin holding RoleAdmin. A zero admin leaves
// the table empty.
func NewRoles(admin common.Address) *Roles {
	r := &Roles{members: make(map[Role]map[common.Address]struct{})}
	if admin != (common.Address{}) {
		r.grant(RoleAdmin, admin)
	}
	return r
}

func (r *Roles) HasRole(role Role, account common.Address) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[role][account]
	return ok
}

// Members lists the holders of role in address order.
func (r *Roles) Members(role Role) []common.Address {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.members[role]))
	for addr := range r.members[role] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// grant reports whether membership changed.
func (r *Roles) grant(role Role, account common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		r.members[role] = set
	}
	if _, exists := set[account]; exists {
		return false
	}
	set[account] = struct{}{}
	return true
}

func (r *Roles) revoke(role Role, account common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.members[role]
	if _, exists := set[account]; !exists {
		return false
	}
	delete(set, account)
	return true
}

// RoleGrant is the persisted form of a single membership.
type RoleGrant struct {
	Role    common.Hash
	Account common.Address
}

// RolesState is the serialisable snapshot of a Roles table.
type RolesState struct {
	Grants []RoleGrant
}

// ExportState returns the memberships sorted by role then account.
func (r *Roles) ExportState() RolesState {
	state := RolesState{}
	if r == nil {
		return state
	}
	r.mu.RLock()
	for role, set := range r.members {
		for addr := range set {
			state.Grants = append(state.Grants, RoleGrant{Role: role, Account: addr})
		}
	}
	r.mu.RUnlock()
	sort.Slice(state.Grants, func(i, j int) bool {
		if c := state.Grants[i].Role.Cmp(state.Grants[j].Role); c != 0 {
			return c < 0
		}
		return state.Grants[i].Account.Cmp(state.Grants[j].Account) < 0
	})
	return state
}

// ImportState replaces the table contents.
func (r *Roles) ImportState(state RolesState) {
	if r == nil {
		return
	}
	members := make(map[Role]map[common.Address]struct{})
	for _, g := range state.Grants {
		set, ok := members[g.Role]
		if !ok {
			set = make(map[common.Address]struct{})
			members[g.Role] = set
		}
		set[g.Account] = struct{}{}
	}
	r.mu.Lock()
	r.members = members
	r.mu.Unlock()
}

// HasRole reports whether account holds role on this vault.
func (e *Engine) HasRole(role Role, account common.Address) bool {
	if e == nil {
		return false
	}
	return e.roles.HasRole(role, account)
}

func (e *Engine) requireRole(role Role, caller common.Address) error {
	if !e.roles.HasRole(role, caller) {
		return ErrUnauthorized
	}
	return nil
}

// GrantRole adds account to role. Only admins may grant.
func (e *Engine) GrantRole(caller common.Address, role Role, account common.Address) error {
	return e.changeRole(caller, role, account, true)
}

// RevokeRole removes account from role. Only admins may revoke.
func (e *Engine) RevokeRole(caller common.Address, role Role, account common.Address) error {
	return e.changeRole(caller, role, account, false)
}

func (e *Engine) changeRole(caller common.Address, role Role, account common.Address, grant bool) error {
	op := "revokeRole"
	if grant {
		op = "grantRole"
	}
	return e.mutate(op, func(tx *stateTx) (effect, error) {
		return e.stageRoleChange(tx, caller, role, account, grant)
	})
}

// stageRoleChange validates a membership change and returns the effect that
// applies it. The table is untouched until the effect runs after commit.
func (e *Engine) stageRoleChange(tx *stateTx, caller common.Address, role Role, account common.Address, grant bool) (effect, error) {
	if err := e.requireRole(RoleAdmin, caller); err != nil {
		return nil, err
	}
	if account == (common.Address{}) {
		return nil, ErrInvalidReceiver
	}
	if e.roles.HasRole(role, account) == grant {
		return nil, nil
	}
	tx.emit(events.VaultRoleChanged{Role: RoleName(role), Account: account, Sender: caller, Granted: grant})
	return func() error {
		if grant {
			e.roles.grant(role, account)
		} else {
			e.roles.revoke(role, account)
		}
		e.logger.Info("vault role changed", "role", RoleName(role), "account", account.Hex(), "granted", grant)
		return nil
	}, nil
}

// Pause stops deposits, withdrawals, redemptions and rebalances. Claims
// remain available.
func (e *Engine) Pause(caller common.Address) error { return e.setPaused(caller, true) }

// Unpause resumes normal operation.
func (e *Engine) Unpause(caller common.Address) error { return e.setPaused(caller, false) }

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	return e.mutate("pause", func(tx *stateTx) (effect, error) {
		if err := e.requireRole(RoleManager, caller); err != nil {
			return nil, err
		}
		current, err := tx.GetPaused()
		if err != nil {
			return nil, err
		}
		if current == paused {
			return nil, nil
		}
		if err := tx.PutPaused(paused); err != nil {
			return nil, err
		}
		tx.emit(events.VaultPaused{Sender: caller, Paused: paused})
		return nil, nil
	})
}

// Paused reports the stored pause switch.
func (e *Engine) Paused() bool {
	if e == nil || e.state == nil {
		return false
	}
	paused, err := e.state.GetPaused()
	return err == nil && paused
}
