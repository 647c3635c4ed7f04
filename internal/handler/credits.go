package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/view"
)

// Wallet возвращает кошелёк текущего читателя.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.engine.Wallet(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, "wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// Payout выводит средства из кошелька текущего читателя.
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}

	c := caller(r)
	t, err := h.engine.RequestPayout(r.Context(), c.ID, req.Amount)
	if err != nil {
		h.writeError(w, r, "payout", err)
		return
	}
	h.logger.Info("payout requested", zap.Int64("readerID", c.ID), zap.Int64("amount", req.Amount))
	writeJSON(w, http.StatusOK, view.Transactions([]model.Transaction{*t})[0])
}

// Credits возвращает счёт кредитов текущего автора.
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	acc, err := h.engine.Account(r.Context(), caller(r).ID, model.AccountAuthorCredits)
	if err != nil {
		h.writeError(w, r, "credits", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewAccount(acc))
}

// Transactions возвращает журнал счёта владельцу или администратору.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}

	txs, err := h.engine.Transactions(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, r, "transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, view.Transactions(txs))
}

type purchaseRequest struct {
	AuthorID  int64  `json:"authorId"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// PurchaseCredits зачисляет автору кредиты, оплаченные во внешней кассе.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := h.engine.PurchaseCredits(r.Context(), req.AuthorID, req.Amount, req.Reference)
	if err != nil {
		h.writeError(w, r, "purchase credits", err)
		return
	}
	writeJSON(w, http.StatusOK, view.Transactions([]model.Transaction{*t})[0])
}

type bonusRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// GrantBonus начисляет читателю бонус.
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	readerID, ok := pathID(w, r, "readerID")
	if !ok {
		return
	}
	var req bonusRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := h.engine.GrantBonus(r.Context(), readerID, req.Amount, req.Reason)
	if err != nil {
		h.writeError(w, r, "grant bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, view.Transactions([]model.Transaction{*t})[0])
}

type verifyResponse struct {
	AccountID int64 `json:"accountId"`
	Balanced  bool  `json:"balanced"`
}

// VerifyAccount сверяет баланс счёта с журналом.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}

	if err := h.engine.VerifyAccount(r.Context(), id); err != nil {
		h.writeError(w, r, "verify account", err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{AccountID: id, Balanced: true})
}
