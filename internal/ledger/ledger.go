// Package ledger реализует книгу кредитов: кешированный баланс счёта и
// неизменяемый журнал проводок, изменяемые в одной единице работы.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// Tx описывает операции хранилища, доступные книге внутри единицы работы.
type Tx interface {
	LockAccount(ctx context.Context, id int64) (*model.Account, error)
	AccountByOwner(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error)
	InsertAccount(ctx context.Context, a *model.Account) error
	UpdateAccount(ctx context.Context, a *model.Account) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	ReversalOf(ctx context.Context, id int64) (*model.Transaction, error)
}

// IDGenerator выдаёт уникальные идентификаторы.
type IDGenerator interface {
	NextID() int64
}

// Book выполняет проводки по счетам.
type Book struct {
	ids IDGenerator
	now func() time.Time
}

// NewBook создаёт книгу кредитов.
func NewBook(ids IDGenerator, now func() time.Time) *Book {
	if now == nil {
		now = time.Now
	}
	return &Book{ids: ids, now: now}
}

// EnsureAccount возвращает заблокированный счёт владельца, создавая его при необходимости.
func (b *Book) EnsureAccount(ctx context.Context, tx Tx, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	acc, err := tx.AccountByOwner(ctx, ownerID, kind)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, apperr.ErrAccountNotFound) {
		return nil, err
	}

	now := b.now()
	acc = &model.Account{
		ID:        b.ids.NextID(),
		OwnerID:   ownerID,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acc, nil
}

// Entry описывает проводку до записи в журнал.
type Entry struct {
	AccountID   int64
	Type        model.TransactionType
	Amount      int64
	Reason      string
	ReferenceID int64
}

// Debit списывает amount со счёта. При нехватке средств возвращает ErrInsufficientCredits
// и ничего не изменяет.
func (b *Book) Debit(ctx context.Context, tx Tx, e Entry) (*model.Transaction, error) {
	if e.Amount <= 0 {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "debit amount must be positive")
	}
	e.Amount = -e.Amount
	return b.post(ctx, tx, e, nil)
}

// Credit зачисляет amount на счёт.
func (b *Book) Credit(ctx context.Context, tx Tx, e Entry) (*model.Transaction, error) {
	if e.Amount <= 0 {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "credit amount must be positive")
	}
	return b.post(ctx, tx, e, nil)
}

// Refund записывает обратную проводку REVERSAL к transactionID. Исходная запись не удаляется.
func (b *Book) Refund(ctx context.Context, tx Tx, transactionID int64, reason string) (*model.Transaction, error) {
	orig, err := tx.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if orig.Type == model.TxReversal {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "reversal cannot be refunded")
	}

	existing, err := tx.ReversalOf(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Wrap(apperr.ErrAlreadyReversed, fmt.Sprintf("transaction %d already reversed by %d", transactionID, existing.ID))
	}

	id := orig.ID
	return b.post(ctx, tx, Entry{
		AccountID:   orig.AccountID,
		Type:        model.TxReversal,
		Amount:      -orig.Amount,
		Reason:      reason,
		ReferenceID: orig.ReferenceID,
	}, &id)
}

func (b *Book) post(ctx context.Context, tx Tx, e Entry, reverses *int64) (*model.Transaction, error) {
	acc, err := tx.LockAccount(ctx, e.AccountID)
	if err != nil {
		return nil, err
	}

	after := acc.Balance + e.Amount
	if after < 0 {
		return nil, apperr.Wrap(apperr.ErrInsufficientCredits,
			fmt.Sprintf("account %d: balance %d, need %d", acc.ID, acc.Balance, -e.Amount))
	}

	now := b.now()
	t := &model.Transaction{
		ID:            b.ids.NextID(),
		AccountID:     acc.ID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: acc.Balance,
		BalanceAfter:  after,
		Reason:        e.Reason,
		ReferenceID:   e.ReferenceID,
		ReversesID:    reverses,
		CreatedAt:     now,
	}

	acc.Balance = after
	switch e.Type {
	case model.TxEarning, model.TxBonus:
		acc.LifetimeEarned += e.Amount
	case model.TxPayout:
		acc.LifetimeWithdrawn -= e.Amount
	}
	acc.UpdatedAt = now

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	return t, nil
}

// ErrLedgerMismatch возвращается Verify, если журнал не сходится с кешированным балансом.
var ErrLedgerMismatch = errors.New("ledger does not match cached balance")

// Verify проигрывает журнал счёта в порядке записи и сверяет его с кешированным балансом.
func Verify(acc *model.Account, txs []model.Transaction) error {
	var running int64
	for _, t := range txs {
		if t.AccountID != acc.ID {
			return fmt.Errorf("%w: transaction %d belongs to account %d", ErrLedgerMismatch, t.ID, t.AccountID)
		}
		if t.BalanceBefore != running {
			return fmt.Errorf("%w: transaction %d starts at %d, expected %d", ErrLedgerMismatch, t.ID, t.BalanceBefore, running)
		}
		if t.BalanceAfter != t.BalanceBefore+t.Amount {
			return fmt.Errorf("%w: transaction %d: %d + %d != %d", ErrLedgerMismatch, t.ID, t.BalanceBefore, t.Amount, t.BalanceAfter)
		}
		running = t.BalanceAfter
	}
	if running != acc.Balance {
		return fmt.Errorf("%w: replayed %d, cached %d", ErrLedgerMismatch, running, acc.Balance)
	}
	return nil
}
