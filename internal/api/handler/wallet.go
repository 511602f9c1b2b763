package handler

import (
	"net/http"
	"time"

	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
)

// WalletHandler handles wallet reads, deposits, withdrawals and the admin
// money operations.
type WalletHandler struct {
	wallets *service.WalletService
}

func NewWalletHandler(wallets *service.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// Get handles GET /v1/wallet
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.GetWallet(r.Context(), actor.ID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

// Transactions handles GET /v1/wallet/transactions
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	entries, err := h.wallets.ListTransactions(r.Context(), actor.ID, limit, offset)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"limit":        limit,
		"offset":       offset,
	})
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit handles POST /v1/wallet/deposits
// 200 when the gateway captured synchronously, 202 while pending.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.wallets.Deposit(r.Context(), actor, req.Amount)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.Status != domain.TxStatusPending {
		status = http.StatusOK
	}
	RespondJSON(w, status, res)
}

type withdrawRequest struct {
	Amount         int64  `json:"amount"`
	BankAccountRef string `json:"bank_account_ref"`
}

// Withdraw handles POST /v1/wallet/withdrawals
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.wallets.Withdraw(r.Context(), actor, req.Amount, req.BankAccountRef)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, res)
}

// ApproveWithdrawal handles POST /v1/admin/withdrawals/{id}/approve
func (h *WalletHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.resolveWithdrawal(w, r, true)
}

// RejectWithdrawal handles POST /v1/admin/withdrawals/{id}/reject
func (h *WalletHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.resolveWithdrawal(w, r, false)
}

func (h *WalletHandler) resolveWithdrawal(w http.ResponseWriter, r *http.Request, approve bool) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	txID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var (
		res *service.WithdrawalResult
		err error
	)
	if approve {
		res, err = h.wallets.ApproveWithdrawal(r.Context(), actor, txID)
	} else {
		res, err = h.wallets.RejectWithdrawal(r.Context(), actor, txID)
	}
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

type adjustRequest struct {
	Amount    int64  `json:"amount"`
	Direction string `json:"direction"`
	Reason    string `json:"reason"`
}

// AdjustBalance handles POST /v1/admin/wallets/{userID}/adjust
func (h *WalletHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wallet, err := h.wallets.AdminAdjustBalance(r.Context(), actor, userID, req.Amount, req.Direction, req.Reason)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

type confirmBatchRequest struct {
	OlderThan string `json:"older_than"`
	Limit     int32  `json:"limit"`
}

// ConfirmPendingDeposits handles POST /v1/admin/deposits/confirm-batch
// older_than is a Go duration and defaults to ten minutes.
func (h *WalletHandler) ConfirmPendingDeposits(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req confirmBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	olderThan := 10 * time.Minute
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-duration", "older_than must be a non-negative duration such as 10m")
			return
		}
		olderThan = d
	}
	report, err := h.wallets.ConfirmPendingDeposits(r.Context(), actor, olderThan, req.Limit)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
