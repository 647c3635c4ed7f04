// Package handler содержит HTTP-обработчики API движка распределения рецензий.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/engine"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/events"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/middleware"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/view"
)

// Engine определяет операции движка, доступные через HTTP.
type Engine interface {
	CreateCampaign(ctx context.Context, authorID int64, in engine.NewCampaign) (*model.Campaign, error)
	ActivateCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error)
	PauseCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error)
	ResumeCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error)
	CancelCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error)
	ForceCompleteCampaign(ctx context.Context, campaignID int64, reason string) (*model.Campaign, error)
	AdjustDistribution(ctx context.Context, campaignID int64, weeklyQuota int) (*model.Campaign, error)
	ResumeDistribution(ctx context.Context, campaignID int64) (*model.Campaign, error)
	AdjustOverbooking(ctx context.Context, campaignID int64, enabled bool, percent int) (*model.Campaign, error)
	GetCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, caller model.Caller, status model.CampaignStatus) ([]model.Campaign, error)
	CampaignAssignments(ctx context.Context, caller model.Caller, campaignID int64) ([]model.Assignment, error)

	ApplyToCampaign(ctx context.Context, readerID, campaignID int64, format model.Format) (*model.Assignment, error)
	WithdrawAssignment(ctx context.Context, readerID, assignmentID int64) (*model.Assignment, error)
	RemoveReaderFromCampaign(ctx context.Context, campaignID, readerID int64, reason string) (*model.Assignment, error)
	RequestMaterialAccess(ctx context.Context, readerID, assignmentID int64) (*model.Assignment, *model.MaterialLink, error)
	SubmitReview(ctx context.Context, readerID, assignmentID int64, reviewURL, text string) (*model.Assignment, error)
	ValidateReview(ctx context.Context, assignmentID int64, approved bool, comment string) (*model.Assignment, error)
	SettleAssignment(ctx context.Context, assignmentID int64) (*model.Assignment, error)
	ManualGrantAccess(ctx context.Context, assignmentID int64) (*model.Assignment, error)
	ExpireAssignment(ctx context.Context, assignmentID int64) (*engine.Expiry, error)
	ReaderAssignments(ctx context.Context, readerID int64) ([]model.Assignment, error)
	GetAssignment(ctx context.Context, caller model.Caller, assignmentID int64) (*model.Assignment, error)

	PurchaseCredits(ctx context.Context, authorID, amount int64, reference string) (*model.Transaction, error)
	GrantBonus(ctx context.Context, readerID, amount int64, reason string) (*model.Transaction, error)
	RequestPayout(ctx context.Context, readerID, amount int64) (*model.Transaction, error)
	Wallet(ctx context.Context, readerID int64) (view.Wallet, error)
	Account(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error)
	Transactions(ctx context.Context, caller model.Caller, accountID int64) ([]model.Transaction, error)
	VerifyAccount(ctx context.Context, accountID int64) error
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	engine         Engine
	hub            *events.Hub
	gatherer       prometheus.Gatherer
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. hub и gatherer
// могут быть nil: тогда /api/events и /metrics не регистрируются.
func NewHandler(e Engine, hub *events.Hub, gatherer prometheus.Gatherer, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		engine:         e,
		hub:            hub,
		gatherer:       gatherer,
		logger:         logger,
		authMiddleware: auth,
		now:            time.Now,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// statusOf сопоставляет код ошибки движка статусу HTTP.
func statusOf(err error) int {
	if errors.Is(err, ledger.ErrLedgerMismatch) {
		return http.StatusConflict
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeAssignmentNotFound, apperr.CodeCampaignNotFound,
		apperr.CodeAccountNotFound, apperr.CodeTransactionNotFound:
		return http.StatusNotFound
	case apperr.CodeCampaignFull, apperr.CodeCampaignInactive, apperr.CodeDuplicateApplication,
		apperr.CodeInvalidStateTransition, apperr.CodeAlreadyReversed:
		return http.StatusConflict
	case apperr.CodeFormatUnavailable, apperr.CodeDeadlineAlreadyPassed:
		return http.StatusUnprocessableEntity
	case apperr.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeConcurrentModification:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, http.StatusText(status), status)
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	code := string(apperr.CodeOf(err))
	if code == "" {
		code = "LEDGER_MISMATCH"
	}
	writeJSON(w, status, errorResponse{Code: code, Reason: apperr.ReasonOf(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func caller(r *http.Request) model.Caller {
	c, _ := middleware.CallerFromContext(r.Context())
	return c
}

// campaignView возвращает проекцию кампании для роли вызывающего.
func (h *Handler) campaignView(c model.Caller, cmp *model.Campaign) any {
	switch c.Role {
	case model.RoleAdmin:
		return view.NewAdminCampaign(cmp, h.now())
	case model.RoleAuthor:
		return view.NewAuthorCampaign(cmp, h.now())
	}
	return view.NewReaderCampaign(cmp)
}

// assignmentView возвращает проекцию назначения для роли вызывающего.
func assignmentView(c model.Caller, a *model.Assignment) any {
	if c.Admin() {
		return view.NewAdminAssignment(a)
	}
	return view.NewReaderAssignment(a)
}
