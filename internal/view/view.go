// Package view содержит проекции сущностей для авторов, читателей и администраторов.
//
// Авторские и читательские формы перечисляют поля явно: признак буфера, параметры
// перебронирования и счётчик назначенных читателей в них не входят, и никакая
// сериализация сущности целиком их туда не добавит.
package view

import (
	"time"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/planner"
)

// AuthorCampaign — кампания глазами автора.
type AuthorCampaign struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	TargetReviews    int        `json:"targetReviews"`
	ReviewsPerWeek   int        `json:"reviewsPerWeek"`
	WeeklyTarget     int        `json:"weeklyTarget"`
	CurrentWeek      int        `json:"currentWeek"`
	AvailableFormats string     `json:"availableFormats"`
	ReviewsDelivered int        `json:"reviewsDelivered"`
	ReviewsValidated int        `json:"reviewsValidated"`
	ReviewsCompleted int        `json:"reviewsCompleted"`
	PendingReviews   int        `json:"pendingReviews"`
	CreditsAllocated int64      `json:"creditsAllocated"`
	CreditsRefunded  int64      `json:"creditsRefunded"`
	CreatedAt        time.Time  `json:"createdAt"`
	ActivatedAt      *time.Time `json:"activatedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// NewAuthorCampaign строит авторскую проекцию кампании.
func NewAuthorCampaign(c *model.Campaign, now time.Time) AuthorCampaign {
	v := AuthorCampaign{
		ID:               c.ID,
		Title:            c.Title,
		Status:           string(c.Status),
		TargetReviews:    c.TargetReviews,
		ReviewsPerWeek:   c.ReviewsPerWeek,
		AvailableFormats: string(c.AvailableFormats),
		ReviewsDelivered: c.ReviewsDelivered,
		ReviewsValidated: c.ReviewsValidated,
		ReviewsCompleted: c.ReviewsCompleted,
		PendingReviews:   c.PendingReviews,
		CreditsAllocated: c.CreditsAllocated,
		CreditsRefunded:  c.CreditsRefunded,
		CreatedAt:        c.CreatedAt,
		ActivatedAt:      c.ActivatedAt,
		CompletedAt:      c.CompletedAt,
	}
	if c.Status == model.CampaignActive || c.Status == model.CampaignPaused {
		v.WeeklyTarget = planner.VisibleTarget(c)
		v.CurrentWeek = c.CurrentWeek(now)
	}
	return v
}

// AdminCampaign — полная проекция кампании.
type AdminCampaign struct {
	AuthorCampaign

	AuthorID                   int64      `json:"authorId"`
	OverbookingEnabled         bool       `json:"overbookingEnabled"`
	OverbookingPercent         int        `json:"overbookingPercent"`
	TotalAssignedReaders       int        `json:"totalAssignedReaders"`
	MaxAssignedReaders         int        `json:"maxAssignedReaders"`
	ReviewsRejected            int        `json:"reviewsRejected"`
	ReviewsExpired             int        `json:"reviewsExpired"`
	CreditsCommitted           int64      `json:"creditsCommitted"`
	ManualDistributionOverride bool       `json:"manualDistributionOverride"`
	ManualWeeklyQuota          int        `json:"manualWeeklyQuota"`
	DistributionPausedAt       *time.Time `json:"distributionPausedAt,omitempty"`
	DistributionResumedAt      *time.Time `json:"distributionResumedAt,omitempty"`
	Version                    int64      `json:"version"`
}

// NewAdminCampaign строит административную проекцию кампании.
func NewAdminCampaign(c *model.Campaign, now time.Time) AdminCampaign {
	return AdminCampaign{
		AuthorCampaign:             NewAuthorCampaign(c, now),
		AuthorID:                   c.AuthorID,
		OverbookingEnabled:         c.OverbookingEnabled,
		OverbookingPercent:         c.OverbookingPercent,
		TotalAssignedReaders:       c.TotalAssignedReaders,
		MaxAssignedReaders:         planner.MaxAssigned(c),
		ReviewsRejected:            c.ReviewsRejected,
		ReviewsExpired:             c.ReviewsExpired,
		CreditsCommitted:           c.CreditsCommitted,
		ManualDistributionOverride: c.ManualDistributionOverride,
		ManualWeeklyQuota:          c.ManualWeeklyQuota,
		DistributionPausedAt:       c.DistributionPausedAt,
		DistributionResumedAt:      c.DistributionResumedAt,
		Version:                    c.Version,
	}
}

// AuthorAssignment — назначение глазами автора кампании.
type AuthorAssignment struct {
	ID            int64      `json:"id"`
	CampaignID    int64      `json:"campaignId"`
	State         string     `json:"state"`
	Format        string     `json:"format"`
	ScheduledWeek int        `json:"scheduledWeek"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	ValidatedAt   *time.Time `json:"validatedAt,omitempty"`
	ReviewURL     string     `json:"reviewUrl,omitempty"`
}

// AuthorVisible сообщает, может ли автор видеть назначение. Буферные назначения
// скрыты целиком: их число раскрыло бы размер буфера. По той же причине в авторской
// проекции нет позиции в очереди.
func AuthorVisible(a *model.Assignment) bool {
	return !a.IsBufferAssignment
}

// NewAuthorAssignment строит авторскую проекцию назначения.
func NewAuthorAssignment(a *model.Assignment) AuthorAssignment {
	v := AuthorAssignment{
		ID:            a.ID,
		CampaignID:    a.CampaignID,
		State:         string(a.State),
		Format:        string(a.FormatAssigned),
		ScheduledWeek: a.ScheduledWeek,
		SubmittedAt:   a.SubmittedAt,
		ValidatedAt:   a.ValidatedAt,
	}
	if a.State == model.StateValidated || a.State == model.StateCompleted {
		v.ReviewURL = a.ReviewURL
	}
	return v
}

// AuthorAssignments отбирает видимые автору назначения и строит их проекции.
func AuthorAssignments(as []model.Assignment) []AuthorAssignment {
	res := make([]AuthorAssignment, 0, len(as))
	for i := range as {
		if AuthorVisible(&as[i]) {
			res = append(res, NewAuthorAssignment(&as[i]))
		}
	}
	return res
}

// ReaderAssignment — назначение глазами читателя.
type ReaderAssignment struct {
	ID                  int64      `json:"id"`
	CampaignID          int64      `json:"campaignId"`
	State               string     `json:"state"`
	Format              string     `json:"format"`
	CreditsValue        int64      `json:"creditsValue"`
	QueuePosition       int        `json:"queuePosition"`
	ScheduledWeek       int        `json:"scheduledWeek"`
	ScheduledDate       *time.Time `json:"scheduledDate,omitempty"`
	MaterialsReleasedAt *time.Time `json:"materialsReleasedAt,omitempty"`
	DeadlineAt          *time.Time `json:"deadlineAt,omitempty"`
	SubmittedAt         *time.Time `json:"submittedAt,omitempty"`
	EndReason           string     `json:"endReason,omitempty"`
	AppliedAt           time.Time  `json:"appliedAt"`
}

// NewReaderAssignment строит читательскую проекцию назначения.
func NewReaderAssignment(a *model.Assignment) ReaderAssignment {
	return ReaderAssignment{
		ID:                  a.ID,
		CampaignID:          a.CampaignID,
		State:               string(a.State),
		Format:              string(a.FormatAssigned),
		CreditsValue:        a.CreditsValue,
		QueuePosition:       a.QueuePosition,
		ScheduledWeek:       a.ScheduledWeek,
		ScheduledDate:       a.ScheduledDate,
		MaterialsReleasedAt: a.MaterialsReleasedAt,
		DeadlineAt:          a.DeadlineAt,
		SubmittedAt:         a.SubmittedAt,
		EndReason:           a.EndReason,
		AppliedAt:           a.AppliedAt,
	}
}

// ReaderAssignments строит читательские проекции списка назначений.
func ReaderAssignments(as []model.Assignment) []ReaderAssignment {
	res := make([]ReaderAssignment, 0, len(as))
	for i := range as {
		res = append(res, NewReaderAssignment(&as[i]))
	}
	return res
}

// AdminAssignment — полная проекция назначения.
type AdminAssignment struct {
	ReaderAssignment

	ReaderID           int64      `json:"readerId"`
	IsBufferAssignment bool       `json:"isBufferAssignment"`
	FirstAccessAt      *time.Time `json:"firstAccessAt,omitempty"`
	ValidatedAt        *time.Time `json:"validatedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	ReviewURL          string     `json:"reviewUrl,omitempty"`
	ReviewText         string     `json:"reviewText,omitempty"`
	ReservationTxID    *int64     `json:"reservationTxId,omitempty"`
	ReplacedByID       *int64     `json:"replacedById,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	Version            int64      `json:"version"`
}

// NewAdminAssignment строит административную проекцию назначения.
func NewAdminAssignment(a *model.Assignment) AdminAssignment {
	return AdminAssignment{
		ReaderAssignment:   NewReaderAssignment(a),
		ReaderID:           a.ReaderID,
		IsBufferAssignment: a.IsBufferAssignment,
		FirstAccessAt:      a.FirstAccessAt,
		ValidatedAt:        a.ValidatedAt,
		CompletedAt:        a.CompletedAt,
		ReviewURL:          a.ReviewURL,
		ReviewText:         a.ReviewText,
		ReservationTxID:    a.ReservationTxID,
		ReplacedByID:       a.ReplacedByID,
		UpdatedAt:          a.UpdatedAt,
		Version:            a.Version,
	}
}

// AdminAssignments строит административные проекции списка назначений.
func AdminAssignments(as []model.Assignment) []AdminAssignment {
	res := make([]AdminAssignment, 0, len(as))
	for i := range as {
		res = append(res, NewAdminAssignment(&as[i]))
	}
	return res
}

// Wallet — кошелёк читателя.
type Wallet struct {
	Balance           int64 `json:"balance"`
	Reserved          int64 `json:"reserved"`
	LifetimeEarned    int64 `json:"lifetimeEarned"`
	LifetimeWithdrawn int64 `json:"lifetimeWithdrawn"`
}

// NewWallet строит проекцию кошелька по счёту выплат и счёту резерва (оба могут отсутствовать).
func NewWallet(wallet, reserved *model.Account) Wallet {
	var w Wallet
	if wallet != nil {
		w.Balance = wallet.Balance
		w.LifetimeEarned = wallet.LifetimeEarned
		w.LifetimeWithdrawn = wallet.LifetimeWithdrawn
	}
	if reserved != nil {
		w.Reserved = reserved.Balance
	}
	return w
}

// Transaction — запись книги кредитов.
type Transaction struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Reason        string    `json:"reason,omitempty"`
	ReferenceID   int64     `json:"referenceId,omitempty"`
	ReversesID    *int64    `json:"reversesId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Transactions строит проекции журнала счёта.
func Transactions(txs []model.Transaction) []Transaction {
	res := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		res = append(res, Transaction{
			ID:            t.ID,
			Type:          string(t.Type),
			Amount:        t.Amount,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			Reason:        t.Reason,
			ReferenceID:   t.ReferenceID,
			ReversesID:    t.ReversesID,
			CreatedAt:     t.CreatedAt,
		})
	}
	return res
}

// SlotReleaseFailure — запись аудита о слоте, который не удалось передать.
type SlotReleaseFailure struct {
	CampaignID   int64  `json:"campaignId"`
	AssignmentID int64  `json:"assignmentId"`
	Format       string `json:"format"`
	Reason       string `json:"reason"`
}

// ReaderCampaign — кампания в каталоге читателя.
type ReaderCampaign struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	AvailableFormats string `json:"availableFormats"`
	ReviewsPerWeek   int    `json:"reviewsPerWeek"`
}

// NewReaderCampaign строит читательскую проекцию кампании.
func NewReaderCampaign(c *model.Campaign) ReaderCampaign {
	return ReaderCampaign{
		ID:               c.ID,
		Title:            c.Title,
		AvailableFormats: string(c.AvailableFormats),
		ReviewsPerWeek:   c.ReviewsPerWeek,
	}
}

// Account — счёт книги кредитов.
type Account struct {
	ID                int64  `json:"id,omitempty"`
	Kind              string `json:"kind"`
	Balance           int64  `json:"balance"`
	LifetimeEarned    int64  `json:"lifetimeEarned"`
	LifetimeWithdrawn int64  `json:"lifetimeWithdrawn"`
}

// NewAccount строит проекцию счёта.
func NewAccount(a *model.Account) Account {
	return Account{
		ID:                a.ID,
		Kind:              string(a.Kind),
		Balance:           a.Balance,
		LifetimeEarned:    a.LifetimeEarned,
		LifetimeWithdrawn: a.LifetimeWithdrawn,
	}
}
