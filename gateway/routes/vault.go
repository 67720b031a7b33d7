package routes

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"multivault/native/vault"
	"multivault/services/vault/server"
)

type vaultRoutes struct {
	svc    *server.Service
	logger *slog.Logger
}

type summaryResponse struct {
	Address          string    `json:"address"`
	Asset            assetInfo `json:"asset"`
	TotalAssets      string    `json:"totalAssets"`
	TotalSupply      string    `json:"totalSupply"`
	IdleBalance      string    `json:"idleBalance"`
	InstantLiquidity string    `json:"instantLiquidity"`
	MaxDeposit       string    `json:"maxDeposit"`
	SharePrice       string    `json:"sharePrice"`
	StrategyCount    uint64    `json:"strategyCount"`
	Paused           bool      `json:"paused"`
}

type assetInfo struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type strategyResponse struct {
	ID            uint64 `json:"id"`
	Address       string `json:"address"`
	AllocationBps uint64 `json:"allocationBps"`
	Active        bool   `json:"active"`
	HasLockup     bool   `json:"hasLockup"`
	TotalAssets   string `json:"totalAssets"`
	Withdrawable  string `json:"withdrawable"`
}

type withdrawalResponse struct {
	RequestID         uint64 `json:"requestId"`
	StrategyID        uint64 `json:"strategyId"`
	Strategy          string `json:"strategy"`
	StrategyRequestID uint64 `json:"strategyRequestId"`
	Amount            string `json:"amount"`
	Receiver          string `json:"receiver"`
	Claimed           bool   `json:"claimed"`
	Claimable         bool   `json:"claimable"`
	CreatedAt         uint64 `json:"createdAt"`
}

type accountResponse struct {
	Address        string               `json:"address"`
	Shares         string               `json:"shares"`
	Assets         string               `json:"assets"`
	MaxWithdraw    string               `json:"maxWithdraw"`
	MaxRedeem      string               `json:"maxRedeem"`
	AssetBalance   string               `json:"assetBalance"`
	AssetAllowance string               `json:"assetAllowance"`
	Withdrawals    []withdrawalResponse `json:"withdrawals"`
}

type settlementResponse struct {
	Shares   string   `json:"shares"`
	Assets   string   `json:"assets"`
	Instant  string   `json:"instant"`
	Queued   string   `json:"queued"`
	Requests []uint64 `json:"requests"`
}

type depositRequest struct {
	Assets   string `json:"assets"`
	Receiver string `json:"receiver,omitempty"`
}

type withdrawRequest struct {
	Assets   string `json:"assets,omitempty"`
	Shares   string `json:"shares,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

type claimRequest struct {
	RequestID uint64 `json:"requestId"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Shares  string `json:"shares"`
}

func (vr *vaultRoutes) mountReads(r chi.Router) {
	r.Get("/", vr.summary)
	r.Get("/strategies", vr.listStrategies)
	r.Get("/strategies/{id}", vr.getStrategy)
	r.Get("/accounts/{addr}", vr.getAccount)
	r.Get("/accounts/{addr}/withdrawals/{id}", vr.getWithdrawal)
	r.Get("/accounts/{addr}/allowances/{spender}", vr.getAllowance)
	r.Get("/preview", vr.preview)
}

func (vr *vaultRoutes) mountWrites(r chi.Router) {
	r.Post("/deposit", vr.deposit)
	r.Post("/withdraw", vr.withdraw)
	r.Post("/redeem", vr.redeem)
	r.Post("/claim", vr.claim)
	r.Post("/approve", vr.approve)
}

func (vr *vaultRoutes) summary(w http.ResponseWriter, r *http.Request) {
	s, err := vr.svc.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Address:          s.Address.Hex(),
		Asset:            assetInfo{Symbol: s.Symbol, Decimals: s.Decimals},
		TotalAssets:      amountString(s.TotalAssets),
		TotalSupply:      amountString(s.TotalSupply),
		IdleBalance:      amountString(s.IdleBalance),
		InstantLiquidity: amountString(s.Liquidity),
		MaxDeposit:       amountString(s.MaxDeposit),
		SharePrice:       amountString(s.SharePrice),
		StrategyCount:    s.StrategyCount,
		Paused:           s.Paused,
	})
}

func toStrategyResponse(info *vault.StrategyInfo) strategyResponse {
	return strategyResponse{
		ID:            info.ID,
		Address:       info.Address.Hex(),
		AllocationBps: info.AllocationBps,
		Active:        info.Active,
		HasLockup:     info.HasLockup,
		TotalAssets:   amountString(info.TotalAssets),
		Withdrawable:  amountString(info.Withdrawable),
	}
}

func toWithdrawalResponse(info *vault.PendingWithdrawalInfo) withdrawalResponse {
	return withdrawalResponse{
		RequestID:         info.RequestID,
		StrategyID:        info.StrategyID,
		Strategy:          info.Strategy.Hex(),
		StrategyRequestID: info.StrategyRequestID,
		Amount:            amountString(info.Amount),
		Receiver:          info.Receiver.Hex(),
		Claimed:           info.Claimed,
		Claimable:         info.Claimable,
		CreatedAt:         info.CreatedAt,
	}
}

func toSettlementResponse(res *vault.WithdrawalResult) settlementResponse {
	requests := res.Requests
	if requests == nil {
		requests = []uint64{}
	}
	return settlementResponse{
		Shares:   amountString(res.Shares),
		Assets:   amountString(res.Assets),
		Instant:  amountString(res.Instant),
		Queued:   amountString(res.Queued),
		Requests: requests,
	}
}

func (vr *vaultRoutes) listStrategies(w http.ResponseWriter, r *http.Request) {
	infos, err := vr.svc.Strategies(r.Context())
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	out := make([]strategyResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, toStrategyResponse(info))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": out})
}

func (vr *vaultRoutes) getStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	info, err := vr.svc.Strategy(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toStrategyResponse(info))
}

func (vr *vaultRoutes) getAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "addr")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	acct, err := vr.svc.Account(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	withdrawals := make([]withdrawalResponse, 0, len(acct.Withdrawals))
	for _, info := range acct.Withdrawals {
		withdrawals = append(withdrawals, toWithdrawalResponse(info))
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:        acct.Address.Hex(),
		Shares:         amountString(acct.Shares),
		Assets:         amountString(acct.Assets),
		MaxWithdraw:    amountString(acct.MaxWithdraw),
		MaxRedeem:      amountString(acct.MaxRedeem),
		AssetBalance:   amountString(acct.AssetBalance),
		AssetAllowance: amountString(acct.AssetAllowance),
		Withdrawals:    withdrawals,
	})
}

func (vr *vaultRoutes) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "addr")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	info, err := vr.svc.Withdrawal(r.Context(), owner, id)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalResponse(info))
}

func (vr *vaultRoutes) getAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "addr")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	spender, err := pathAddress(r, "spender")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	amount, err := vr.svc.Allowance(r.Context(), owner, spender)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"shares":  amountString(amount),
	})
}

func (vr *vaultRoutes) preview(w http.ResponseWriter, r *http.Request) {
	op := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("op")))
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	quote, err := vr.svc.Preview(r.Context(), op, amount)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"op":     op,
		"amount": amount.String(),
		"result": amountString(quote),
	})
}

func (vr *vaultRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	from := caller(r)
	assets, err := parseAmount("assets", req.Assets)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	receiver, err := optionalAddress("receiver", req.Receiver, from)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	shares, err := vr.svc.Deposit(r.Context(), from, receiver, assets)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"assets":   assets.String(),
		"shares":   amountString(shares),
		"receiver": receiver.Hex(),
	})
}

func (vr *vaultRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	vr.settle(w, r, false)
}

func (vr *vaultRoutes) redeem(w http.ResponseWriter, r *http.Request) {
	vr.settle(w, r, true)
}

func (vr *vaultRoutes) settle(w http.ResponseWriter, r *http.Request, byShares bool) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	from := caller(r)
	field, raw := "assets", req.Assets
	if byShares {
		field, raw = "shares", req.Shares
	}
	amount, err := parseAmount(field, raw)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	receiver, err := optionalAddress("receiver", req.Receiver, from)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	owner, err := optionalAddress("owner", req.Owner, from)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var res *vault.WithdrawalResult
	if byShares {
		res, err = vr.svc.Redeem(r.Context(), from, receiver, owner, amount)
	} else {
		res, err = vr.svc.Withdraw(r.Context(), from, receiver, owner, amount)
	}
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	status := http.StatusOK
	if res.Queued != nil && res.Queued.Sign() > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toSettlementResponse(res))
}

func (vr *vaultRoutes) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	paid, err := vr.svc.Claim(r.Context(), caller(r), req.RequestID)
	if err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requestId": req.RequestID,
		"paid":      amountString(paid),
	})
}

func (vr *vaultRoutes) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := vr.svc.Approve(r.Context(), caller(r), spender, shares); err != nil {
		writeServiceError(w, r, vr.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":   caller(r).Hex(),
		"spender": spender.Hex(),
		"shares":  shares.String(),
	})
}
