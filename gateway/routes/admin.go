package routes

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"multivault/native/vault"
	"multivault/services/vault/server"
)

type addStrategyRequest struct {
	Address       string `json:"address"`
	AllocationBps uint64 `json:"allocationBps"`
	// Lockup is a Go duration string such as "168h".
	Lockup   string `json:"lockup,omitempty"`
	YieldBps uint64 `json:"yieldBps,omitempty"`
}

type allocationEntry struct {
	StrategyID    uint64 `json:"strategyId"`
	AllocationBps uint64 `json:"allocationBps"`
}

type allocationsRequest struct {
	Updates []allocationEntry `json:"updates"`
}

type allocationRequest struct {
	AllocationBps uint64 `json:"allocationBps"`
}

type yieldRequest struct {
	// YieldBps is appreciation in basis points; 1000 means +10%.
	YieldBps uint64 `json:"yieldBps"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
	Grant   bool   `json:"grant"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type moveResponse struct {
	StrategyID uint64 `json:"strategyId"`
	Target     string `json:"target"`
	Before     string `json:"before"`
	Delta      string `json:"delta"`
}

func (vr *vaultRoutes) mountAdmin(r chi.Router) {
	r.Post("/strategies", vr.addStrategy)
	r.Put("/strategies/{id}/allocation", vr.updateAllocation)
	r.Put("/strategies/{id}/yield", vr.setYield)
	r.Post("/strategies/{id}/activate", vr.setActive(true))
	r.Post("/strategies/{id}/deactivate", vr.setActive(false))
	r.Post("/allocations", vr.setAllocations)
	r.Post("/rebalance", vr.rebalance)
	r.Post("/roles", vr.setRole)
	r.Get("/roles/{role}", vr.listRole)
	r.Post("/pause", vr.pause)
}

func (vr *vaultRoutes) addStrategy(w http.ResponseWriter, r *http.Request) {
	var req addStrategyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var lockup time.Duration
	if raw := strings.TrimSpace(req.Lockup); raw != "" {
		lockup, err = time.ParseDuration(raw)
		if err != nil || lockup < 0 {
			writeBadRequest(w, r, fmt.Errorf("lockup must be a non-negative duration"))
			return
		}
	}
	id, err := vr.svc.AddStrategy(r.Context(), caller(r), server.NewStrategy{
		Address:       addr,
		AllocationBps: req.AllocationBps,
		Lockup:        lockup,
		YieldBps:      req.YieldBps,
	})
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	info, err := vr.svc.Strategy(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStrategyResponse(info))
}

func (vr *vaultRoutes) updateAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var req allocationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := vr.svc.UpdateAllocation(r.Context(), caller(r), id, req.AllocationBps); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	vr.writeStrategy(w, r, id)
}

func (vr *vaultRoutes) setYield(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var req yieldRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := vr.svc.SetStrategyYield(r.Context(), caller(r), id, req.YieldBps); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	vr.writeStrategy(w, r, id)
}

func (vr *vaultRoutes) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUint(r, "id")
		if err != nil {
			writeBadRequest(w, r, err)
			return
		}
		if err := vr.svc.SetStrategyActive(r.Context(), caller(r), id, active); err != nil {
			writeServiceError(w, r, vr.logger, err)
			return
		}
		vr.writeStrategy(w, r, id)
	}
}

func (vr *vaultRoutes) writeStrategy(w http.ResponseWriter, r *http.Request, id uint64) {
	info, err := vr.svc.Strategy(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toStrategyResponse(info))
}

func (vr *vaultRoutes) setAllocations(w http.ResponseWriter, r *http.Request) {
	var req allocationsRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	updates := make([]vault.AllocationUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, vault.AllocationUpdate{StrategyID: u.StrategyID, AllocationBps: u.AllocationBps})
	}
	if err := vr.svc.SetAllocations(r.Context(), caller(r), updates); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	vr.listStrategies(w, r)
}

func (vr *vaultRoutes) rebalance(w http.ResponseWriter, r *http.Request) {
	res, err := vr.svc.Rebalance(r.Context(), caller(r))
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	moves := make([]moveResponse, 0, len(res.Moves))
	for _, m := range res.Moves {
		moves = append(moves, moveResponse{
			StrategyID: m.StrategyID,
			Target:     amountString(m.Target),
			Before:     amountString(m.Before),
			Delta:      amountString(m.Delta),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalAssets": amountString(res.TotalAssets),
		"moves":       moves,
	})
}

func (vr *vaultRoutes) setRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	role, ok := vault.ParseRole(strings.TrimSpace(req.Role))
	if !ok {
		writeBadRequest(w, r, fmt.Errorf("unknown role %q", req.Role))
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := vr.svc.SetRole(r.Context(), caller(r), role, account, req.Grant); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":    vault.RoleName(role),
		"account": account.Hex(),
		"member":  vr.svc.HasRole(role, account),
	})
}

func (vr *vaultRoutes) listRole(w http.ResponseWriter, r *http.Request) {
	role, ok := vault.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeBadRequest(w, r, fmt.Errorf("unknown role %q", chi.URLParam(r, "role")))
		return
	}
	members := vr.svc.Members(role)
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":    vault.RoleName(role),
		"members": out,
	})
}

func (vr *vaultRoutes) pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := vr.svc.SetPaused(r.Context(), caller(r), req.Paused); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}
