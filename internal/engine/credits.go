package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/view"
)

func (e *Engine) post(ctx context.Context, op string, ownerID int64, kind model.AccountKind, entry ledger.Entry, debit bool) (*model.Transaction, error) {
	if entry.Amount <= 0 {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "amount must be positive")
	}

	var res *model.Transaction
	err := e.do(ctx, op, func(ctx context.Context, tx repository.Tx, u *unit) error {
		acc, err := e.book.EnsureAccount(ctx, tx, ownerID, kind)
		if err != nil {
			return err
		}
		entry.AccountID = acc.ID

		var t *model.Transaction
		if debit {
			t, err = e.book.Debit(ctx, tx, entry)
		} else {
			t, err = e.book.Credit(ctx, tx, entry)
		}
		if err != nil {
			return err
		}
		u.posted(t)
		res = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PurchaseCredits зачисляет автору кредиты, оплаченные во внешней кассе.
func (e *Engine) PurchaseCredits(ctx context.Context, authorID, amount int64, reference string) (*model.Transaction, error) {
	t, err := e.post(ctx, "PurchaseCredits", authorID, model.AccountAuthorCredits, ledger.Entry{
		Type:   model.TxPurchase,
		Amount: amount,
		Reason: reference,
	}, false)
	if err != nil {
		return nil, err
	}
	e.log.Info("credits purchased", zap.Int64("authorID", authorID), zap.Int64("amount", amount), zap.String("reference", reference))
	return t, nil
}

// GrantBonus начисляет читателю бонус.
func (e *Engine) GrantBonus(ctx context.Context, readerID, amount int64, reason string) (*model.Transaction, error) {
	return e.post(ctx, "GrantBonus", readerID, model.AccountReaderWallet, ledger.Entry{
		Type:   model.TxBonus,
		Amount: amount,
		Reason: reason,
	}, false)
}

// RequestPayout списывает выплату с кошелька читателя.
func (e *Engine) RequestPayout(ctx context.Context, readerID, amount int64) (*model.Transaction, error) {
	t, err := e.post(ctx, "RequestPayout", readerID, model.AccountReaderWallet, ledger.Entry{
		Type:   model.TxPayout,
		Amount: amount,
		Reason: "payout",
	}, true)
	if err != nil {
		return nil, err
	}
	e.log.Info("payout requested", zap.Int64("readerID", readerID), zap.Int64("amount", amount))
	return t, nil
}

func (e *Engine) accountOf(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	acc, err := e.store.GetAccountByOwner(ctx, ownerID, kind)
	if errors.Is(err, apperr.ErrAccountNotFound) {
		return nil, nil
	}
	return acc, err
}

// Wallet возвращает кошелёк читателя вместе с суммой зарезервированных выплат.
func (e *Engine) Wallet(ctx context.Context, readerID int64) (view.Wallet, error) {
	wallet, err := e.accountOf(ctx, readerID, model.AccountReaderWallet)
	if err != nil {
		return view.Wallet{}, err
	}
	reserved, err := e.accountOf(ctx, readerID, model.AccountReaderReserved)
	if err != nil {
		return view.Wallet{}, err
	}
	return view.NewWallet(wallet, reserved), nil
}

// Account возвращает счёт владельца; отсутствующий счёт возвращается с нулевым балансом.
func (e *Engine) Account(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	acc, err := e.accountOf(ctx, ownerID, kind)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return &model.Account{OwnerID: ownerID, Kind: kind}, nil
	}
	return acc, nil
}

// Transactions возвращает журнал счёта владельцу или администратору.
func (e *Engine) Transactions(ctx context.Context, caller model.Caller, accountID int64) ([]model.Transaction, error) {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(acc.OwnerID) {
		return nil, apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("account %d belongs to another owner", accountID))
	}
	return e.store.ListTransactions(ctx, accountID)
}

// VerifyAccount сверяет кешированный баланс счёта с журналом проводок.
func (e *Engine) VerifyAccount(ctx context.Context, accountID int64) error {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	txs, err := e.store.ListTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	if err := ledger.Verify(acc, txs); err != nil {
		e.log.Error("ledger mismatch", zap.Int64("accountID", accountID), zap.Error(err))
		return err
	}
	return nil
}
