// Package model содержит доменные сущности движка распределения рецензий.
package model

import "time"

// Format описывает формат материалов, выдаваемых читателю.
type Format string

const (
	FormatEbook     Format = "EBOOK"
	FormatAudiobook Format = "AUDIOBOOK"
)

// Credits возвращает стоимость одной рецензии в кредитах для формата.
func (f Format) Credits() int64 {
	if f == FormatAudiobook {
		return 2
	}
	return 1
}

// Valid сообщает, является ли формат известным.
func (f Format) Valid() bool {
	return f == FormatEbook || f == FormatAudiobook
}

// FormatSet описывает набор форматов, доступных в кампании.
type FormatSet string

const (
	FormatsEbook     FormatSet = "EBOOK"
	FormatsAudiobook FormatSet = "AUDIOBOOK"
	FormatsBoth      FormatSet = "BOTH"
)

// Contains сообщает, доступен ли формат в наборе.
func (s FormatSet) Contains(f Format) bool {
	switch s {
	case FormatsBoth:
		return f.Valid()
	case FormatsEbook:
		return f == FormatEbook
	case FormatsAudiobook:
		return f == FormatAudiobook
	}
	return false
}

// Valid сообщает, является ли набор известным.
func (s FormatSet) Valid() bool {
	return s == FormatsEbook || s == FormatsAudiobook || s == FormatsBoth
}

// CostPerReview возвращает стоимость одной рецензии, списываемую с автора при активации.
// Если доступна аудиокнига, резервируется максимальная стоимость.
func (s FormatSet) CostPerReview() int64 {
	if s == FormatsEbook {
		return FormatEbook.Credits()
	}
	return FormatAudiobook.Credits()
}

// CampaignStatus описывает статус кампании.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// Terminal сообщает, является ли статус конечным.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// Week — продолжительность одной недели распределения.
const Week = 7 * 24 * time.Hour

// Campaign описывает кампанию автора по сбору рецензий.
//
// Поля OverbookingEnabled, OverbookingPercent и TotalAssignedReaders доступны только
// администраторам и не попадают в авторские представления.
type Campaign struct {
	ID               int64
	AuthorID         int64
	Title            string
	TargetReviews    int
	ReviewsPerWeek   int
	AvailableFormats FormatSet
	Status           CampaignStatus

	OverbookingEnabled   bool
	OverbookingPercent   int
	TotalAssignedReaders int

	ReviewsDelivered int
	ReviewsValidated int
	ReviewsRejected  int
	ReviewsExpired   int
	ReviewsCompleted int
	PendingReviews   int

	CreditsAllocated int64
	CreditsCommitted int64
	CreditsRefunded  int64

	ManualDistributionOverride bool
	ManualWeeklyQuota          int
	DistributionPausedAt       *time.Time
	DistributionResumedAt      *time.Time

	CreatedAt   time.Time
	ActivatedAt *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
	Version     int64
}

// CurrentWeek возвращает номер недели распределения (с единицы) на момент now.
func (c *Campaign) CurrentWeek(now time.Time) int {
	if c.ActivatedAt == nil || now.Before(*c.ActivatedAt) {
		return 1
	}
	return int(now.Sub(*c.ActivatedAt)/Week) + 1
}

// WeekStart возвращает момент начала недели распределения.
func (c *Campaign) WeekStart(week int) time.Time {
	if c.ActivatedAt == nil {
		return time.Time{}
	}
	return c.ActivatedAt.Add(time.Duration(week-1) * Week)
}

// CreditsAvailable возвращает кредиты кампании, ещё не закреплённые за назначениями.
func (c *Campaign) CreditsAvailable() int64 {
	return c.CreditsAllocated - c.CreditsCommitted - c.CreditsRefunded
}

// AssignmentState описывает состояние жизненного цикла назначения.
type AssignmentState string

const (
	StateWaiting    AssignmentState = "WAITING"
	StateScheduled  AssignmentState = "SCHEDULED"
	StateApproved   AssignmentState = "APPROVED"
	StateInProgress AssignmentState = "IN_PROGRESS"
	StateSubmitted  AssignmentState = "SUBMITTED"
	StateValidated  AssignmentState = "VALIDATED"
	StateCompleted  AssignmentState = "COMPLETED"
	StateCancelled  AssignmentState = "CANCELLED"
	StateExpired    AssignmentState = "EXPIRED"
	StateReassigned AssignmentState = "REASSIGNED"
)

// Terminal сообщает, завершён ли жизненный цикл назначения.
// EXPIRED и CANCELLED считаются конечными, хотя допускают переход в REASSIGNED.
func (s AssignmentState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateExpired, StateReassigned:
		return true
	}
	return false
}

// Occupying сообщает, занимает ли назначение слот кампании.
func (s AssignmentState) Occupying() bool {
	return !s.Terminal() || s == StateCompleted
}

// NonTerminalStates перечисляет состояния, в которых назначение ещё активно.
var NonTerminalStates = []AssignmentState{
	StateWaiting, StateScheduled, StateApproved, StateInProgress, StateSubmitted, StateValidated,
}

// Assignment описывает обязательство читателя написать одну рецензию в рамках кампании.
//
// IsBufferAssignment — внутренний признак, не раскрываемый ни авторам, ни читателям.
type Assignment struct {
	ID                  int64
	CampaignID          int64
	ReaderID            int64
	State               AssignmentState
	FormatAssigned      Format
	CreditsValue        int64
	QueuePosition       int
	ScheduledWeek       int
	ScheduledDate       *time.Time
	IsBufferAssignment  bool
	MaterialsReleasedAt *time.Time
	DeadlineAt          *time.Time
	FirstAccessAt       *time.Time
	SubmittedAt         *time.Time
	ValidatedAt         *time.Time
	CompletedAt         *time.Time
	EndReason           string
	ReviewURL           string
	ReviewText          string
	ReservationTxID     *int64
	ReplacedByID        *int64
	AppliedAt           time.Time
	UpdatedAt           time.Time
	Version             int64
}

// Overdue сообщает, истёк ли срок назначения на момент now.
func (a *Assignment) Overdue(now time.Time) bool {
	return a.DeadlineAt != nil && a.DeadlineAt.Before(now)
}

// AccountKind описывает тип счёта в книге кредитов.
type AccountKind string

const (
	AccountAuthorCredits  AccountKind = "AUTHOR_CREDITS"
	AccountReaderWallet   AccountKind = "READER_WALLET"
	AccountReaderReserved AccountKind = "READER_RESERVED"
)

// Account описывает счёт автора или кошелёк читателя с кешированным балансом.
type Account struct {
	ID                int64
	OwnerID           int64
	Kind              AccountKind
	Balance           int64
	LifetimeEarned    int64
	LifetimeWithdrawn int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int64
}

// TransactionType описывает тип проводки.
type TransactionType string

const (
	TxEarning    TransactionType = "EARNING"
	TxPayout     TransactionType = "PAYOUT"
	TxAdjustment TransactionType = "ADJUSTMENT"
	TxBonus      TransactionType = "BONUS"
	TxReversal   TransactionType = "REVERSAL"
	TxPurchase   TransactionType = "PURCHASE"
	TxAllocation TransactionType = "ALLOCATION"
)

// Transaction — неизменяемая запись книги кредитов.
type Transaction struct {
	ID            int64
	AccountID     int64
	Type          TransactionType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Reason        string
	ReferenceID   int64
	ReversesID    *int64
	CreatedAt     time.Time
}
