// Package apperr описывает типизированные ошибки движка распределения.
package apperr

import (
	"errors"
	"fmt"
)

// Code — машиночитаемый код ошибки.
type Code string

const (
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeCampaignFull           Code = "CAMPAIGN_FULL"
	CodeCampaignInactive       Code = "CAMPAIGN_INACTIVE"
	CodeDuplicateApplication   Code = "DUPLICATE_APPLICATION"
	CodeFormatUnavailable      Code = "FORMAT_UNAVAILABLE"
	CodeInsufficientCredits    Code = "INSUFFICIENT_CREDITS"
	CodeAssignmentNotFound     Code = "ASSIGNMENT_NOT_FOUND"
	CodeDeadlineAlreadyPassed  Code = "DEADLINE_ALREADY_PASSED"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeSlotReleaseFailed      Code = "SLOT_RELEASE_FAILED"
	CodeCampaignNotFound       Code = "CAMPAIGN_NOT_FOUND"
	CodeAccountNotFound        Code = "ACCOUNT_NOT_FOUND"
	CodeTransactionNotFound    Code = "TRANSACTION_NOT_FOUND"
	CodeAlreadyReversed        Code = "ALREADY_REVERSED"
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
	CodeForbidden              Code = "FORBIDDEN"
)

// Error — ошибка движка с кодом, сообщением и исходной причиной.
type Error struct {
	Code    Code
	Message string
	reason  string
	Err     error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает исходную причину.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, поэтому errors.Is(err, ErrCampaignFull) работает
// и для ошибок с уточнённым сообщением.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Reason возвращает причину отказа в заявке, показываемую пользователю.
func (e *Error) Reason() string {
	if e.reason != "" {
		return e.reason
	}
	return string(e.Code)
}

// Option настраивает ошибку при создании.
type Option func(*Error)

// WithErr добавляет исходную причину.
func WithErr(err error) Option {
	return func(e *Error) { e.Err = err }
}

// New создаёт ошибку с кодом и сообщением.
func New(code Code, message string, opts ...Option) error {
	e := &Error{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap создаёт ошибку по образцу sentinel с уточнённым сообщением.
func Wrap(sentinel error, message string) error {
	var s *Error
	if !errors.As(sentinel, &s) {
		return fmt.Errorf("%s: %w", message, sentinel)
	}
	return &Error{Code: s.Code, Message: message, reason: s.reason, Err: s.Err}
}

// CodeOf возвращает код ошибки или пустую строку для посторонних ошибок.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf возвращает причину отказа для ошибки движка.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason()
	}
	return ""
}

var (
	// ErrInvalidStateTransition возвращается при переходе, отсутствующем в таблице переходов.
	ErrInvalidStateTransition = &Error{Code: CodeInvalidStateTransition, Message: "invalid state transition"}
	// ErrCampaignFull возвращается, если в кампании не осталось слотов на текущую неделю.
	ErrCampaignFull = &Error{Code: CodeCampaignFull, Message: "campaign full"}
	// ErrCampaignInactive возвращается, если кампания не активна.
	ErrCampaignInactive = &Error{Code: CodeCampaignInactive, Message: "campaign is not active"}
	// ErrDuplicateApplication возвращается, если у читателя уже есть активное назначение в кампании.
	ErrDuplicateApplication = &Error{Code: CodeDuplicateApplication, Message: "already applied"}
	// ErrFormatUnavailable возвращается, если формат не предлагается кампанией.
	ErrFormatUnavailable = &Error{Code: CodeFormatUnavailable, Message: "format unavailable"}
	// ErrInsufficientCredits возвращается, если на счёте недостаточно кредитов.
	ErrInsufficientCredits = &Error{Code: CodeInsufficientCredits, Message: "insufficient credits"}
	// ErrInsufficientAuthorCredits — отказ в заявке из-за исчерпанного бюджета кампании.
	ErrInsufficientAuthorCredits = &Error{Code: CodeInsufficientCredits, Message: "insufficient author credits", reason: "INSUFFICIENT_AUTHOR_CREDITS"}
	// ErrAssignmentNotFound возвращается, если назначение не найдено.
	ErrAssignmentNotFound = &Error{Code: CodeAssignmentNotFound, Message: "assignment not found"}
	// ErrDeadlineAlreadyPassed возвращается при действии после истечения срока назначения.
	ErrDeadlineAlreadyPassed = &Error{Code: CodeDeadlineAlreadyPassed, Message: "deadline already passed"}
	// ErrConcurrentModification сигнализирует о конфликте оптимистичной блокировки.
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification, Message: "concurrent modification"}
	// ErrSlotReleaseFailed — освобождённый слот не удалось передать ожидающему читателю.
	ErrSlotReleaseFailed = &Error{Code: CodeSlotReleaseFailed, Message: "no eligible waiting reader for released slot"}
	// ErrCampaignNotFound возвращается, если кампания не найдена.
	ErrCampaignNotFound = &Error{Code: CodeCampaignNotFound, Message: "campaign not found"}
	// ErrAccountNotFound возвращается, если счёт не найден.
	ErrAccountNotFound = &Error{Code: CodeAccountNotFound, Message: "account not found"}
	// ErrTransactionNotFound возвращается, если проводка не найдена.
	ErrTransactionNotFound = &Error{Code: CodeTransactionNotFound, Message: "transaction not found"}
	// ErrAlreadyReversed возвращается при повторном возврате проводки.
	ErrAlreadyReversed = &Error{Code: CodeAlreadyReversed, Message: "transaction already reversed"}
	// ErrInvalidArgument возвращается при некорректных входных данных.
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	// ErrForbidden возвращается, если вызывающий не владеет ресурсом.
	ErrForbidden = &Error{Code: CodeForbidden, Message: "forbidden"}
)
