// Package repository содержит хранилища движка: PostgreSQL и хранилище в памяти.
// Оба выполняют операцию как единицу работы, сериализованную по строке кампании.
package repository

import (
	"context"
	"time"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// Tx — единица работы. Все изменения применяются атомарно при успешном завершении
// функции, переданной в WithinTx, и отбрасываются при ошибке.
//
// Порядок блокировок: кампания, затем назначение, затем счета.
type Tx interface {
	LockCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	InsertCampaign(ctx context.Context, c *model.Campaign) error
	UpdateCampaign(ctx context.Context, c *model.Campaign) error

	LockAssignment(ctx context.Context, id int64) (*model.Assignment, error)
	InsertAssignment(ctx context.Context, a *model.Assignment) error
	UpdateAssignment(ctx context.Context, a *model.Assignment) error
	CampaignAssignments(ctx context.Context, campaignID int64) ([]model.Assignment, error)

	LockAccount(ctx context.Context, id int64) (*model.Account, error)
	AccountByOwner(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error)
	InsertAccount(ctx context.Context, a *model.Account) error
	UpdateAccount(ctx context.Context, a *model.Account) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	ReversalOf(ctx context.Context, id int64) (*model.Transaction, error)
}

// Reader описывает чтение вне единицы работы.
type Reader interface {
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
	ListCampaignsByAuthor(ctx context.Context, authorID int64) ([]model.Campaign, error)
	GetAssignment(ctx context.Context, id int64) (*model.Assignment, error)
	ListAssignmentsByCampaign(ctx context.Context, campaignID int64) ([]model.Assignment, error)
	ListAssignmentsByReader(ctx context.Context, readerID int64) ([]model.Assignment, error)
	ListOverdueAssignments(ctx context.Context, now time.Time, after OverdueCursor, limit int) ([]model.Assignment, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error)
	ListTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error)
}

// OverdueCursor — позиция постраничного чтения просроченных назначений в порядке
// (срок, идентификатор). Нулевое значение соответствует началу.
type OverdueCursor struct {
	DeadlineAt time.Time
	ID         int64
}

// CursorOf возвращает позицию назначения a.
func CursorOf(a *model.Assignment) OverdueCursor {
	c := OverdueCursor{ID: a.ID}
	if a.DeadlineAt != nil {
		c.DeadlineAt = *a.DeadlineAt
	}
	return c
}

// Precedes сообщает, стоит ли позиция курсора строго раньше назначения a.
func (c OverdueCursor) Precedes(a *model.Assignment) bool {
	next := CursorOf(a)
	if !c.DeadlineAt.Equal(next.DeadlineAt) {
		return c.DeadlineAt.Before(next.DeadlineAt)
	}
	return c.ID < next.ID
}
