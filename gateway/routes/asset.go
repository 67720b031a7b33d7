package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

type faucetRequest struct {
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount"`
}

type assetApproveRequest struct {
	Amount string `json:"amount"`
}

func (vr *vaultRoutes) mountAssetReads(r chi.Router) {
	r.Get("/balances/{addr}", vr.assetBalance)
}

func (vr *vaultRoutes) mountAssetWrites(r chi.Router) {
	r.Post("/faucet", vr.faucet)
	r.Post("/approve", vr.approveAsset)
}

func (vr *vaultRoutes) assetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "addr")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	vr.writeBalance(w, r, account)
}

func (vr *vaultRoutes) faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	account, err := optionalAddress("account", req.Account, caller(r))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := vr.svc.Faucet(r.Context(), account, amount); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	vr.writeBalance(w, r, account)
}

func (vr *vaultRoutes) approveAsset(w http.ResponseWriter, r *http.Request) {
	var req assetApproveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	owner := caller(r)
	if err := vr.svc.ApproveAsset(r.Context(), owner, amount); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"allowance": amount.String(),
	})
}

func (vr *vaultRoutes) writeBalance(w http.ResponseWriter, r *http.Request, account common.Address) {
	balance, err := vr.svc.AssetBalance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": amountString(balance),
	})
}
