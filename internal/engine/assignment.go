package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/validation"
)

// ScheduleAssignment подтверждает неделю читателя: WAITING → SCHEDULED с резервом выплаты.
func (e *Engine) ScheduleAssignment(ctx context.Context, assignmentID int64) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "ScheduleAssignment", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if c.Status != model.CampaignActive {
			return apperr.Wrap(apperr.ErrCampaignInactive, fmt.Sprintf("campaign %d is %s", c.ID, c.Status))
		}
		u.author(c)
		if err := e.schedule(ctx, tx, u, c, a); err != nil {
			return err
		}
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAssignment(res), nil
}

// ReleaseMaterials выдаёт материалы: SCHEDULED → APPROVED, начинается окно доступа
// (72 часа для электронной книги, 7 дней для аудиокниги).
func (e *Engine) ReleaseMaterials(ctx context.Context, assignmentID int64) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "ReleaseMaterials", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if c.Status != model.CampaignActive {
			return apperr.Wrap(apperr.ErrCampaignInactive, fmt.Sprintf("campaign %d is %s", c.ID, c.Status))
		}
		u.author(c)
		if err := e.releaseMaterials(u, a); err != nil {
			return err
		}
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAssignment(res), nil
}

// MinLinkTTL — наименьший срок жизни ссылки на материалы.
const MinLinkTTL = time.Second

// RecordMaterialAccess фиксирует доступ читателя к материалам. Первый доступ переводит
// назначение APPROVED → IN_PROGRESS и открывает срок на рецензию; повторные вызовы
// ничего не изменяют. Блокируется только назначение.
func (e *Engine) RecordMaterialAccess(ctx context.Context, readerID, assignmentID int64) (*model.Assignment, error) {
	return e.recordAccess(ctx, "RecordMaterialAccess", readerID, assignmentID, false)
}

// recordAccess фиксирует доступ. При withLink назначение не изменяется, если до срока
// остаётся меньше MinLinkTTL и ссылку выдать уже нельзя.
func (e *Engine) recordAccess(ctx context.Context, op string, readerID, assignmentID int64, withLink bool) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, op, func(ctx context.Context, tx repository.Tx, u *unit) error {
		a, err := tx.LockAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.ReaderID != readerID {
			return apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("assignment %d belongs to another reader", a.ID))
		}

		now := e.clock()
		switch a.State {
		case model.StateInProgress:
			if a.Overdue(now) {
				return apperr.Wrap(apperr.ErrDeadlineAlreadyPassed, fmt.Sprintf("assignment %d expired at %s", a.ID, a.DeadlineAt))
			}
			if withLink && e.linkTTL(a.DeadlineAt, now) < MinLinkTTL {
				return apperr.Wrap(apperr.ErrDeadlineAlreadyPassed, fmt.Sprintf("assignment %d deadline is due", a.ID))
			}
			res = a
			return nil
		case model.StateApproved:
			if a.Overdue(now) {
				return apperr.Wrap(apperr.ErrDeadlineAlreadyPassed, fmt.Sprintf("assignment %d expired at %s", a.ID, a.DeadlineAt))
			}
		default:
			return apperr.Wrap(apperr.ErrInvalidStateTransition,
				fmt.Sprintf("materials of assignment %d are not available in state %s", a.ID, a.State))
		}

		c, err := e.store.GetCampaign(ctx, a.CampaignID)
		if err != nil {
			return err
		}
		u.author(c)

		deadline := now.Add(e.opts.ReviewWindow)
		if withLink && e.linkTTL(&deadline, now) < MinLinkTTL {
			return apperr.Wrap(apperr.ErrDeadlineAlreadyPassed,
				fmt.Sprintf("assignment %d review window %s is too short for a link", a.ID, e.opts.ReviewWindow))
		}
		if err := e.transition(u, a, model.StateInProgress); err != nil {
			return err
		}
		a.FirstAccessAt = &now
		a.DeadlineAt = &deadline
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAssignment(res), nil
}

// RequestMaterialAccess фиксирует доступ и затем, уже без блокировок, запрашивает у
// хранилища ссылку на материалы. Срок жизни ссылки не превышает срока назначения.
func (e *Engine) RequestMaterialAccess(ctx context.Context, readerID, assignmentID int64) (*model.Assignment, *model.MaterialLink, error) {
	a, err := e.recordAccess(ctx, "RequestMaterialAccess", readerID, assignmentID, e.links != nil)
	if err != nil {
		return nil, nil, err
	}
	if e.links == nil {
		return a, nil, nil
	}

	ttl := e.linkTTL(a.DeadlineAt, e.clock())
	if ttl < MinLinkTTL {
		return nil, nil, apperr.Wrap(apperr.ErrDeadlineAlreadyPassed, fmt.Sprintf("assignment %d deadline is due", a.ID))
	}

	link, err := e.links.SignedURL(ctx, a, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("sign material url: %w", err)
	}
	return a, link, nil
}

// linkTTL ограничивает срок жизни ссылки сроком назначения.
func (e *Engine) linkTTL(deadline *time.Time, now time.Time) time.Duration {
	ttl := e.opts.AccessTTL
	if deadline != nil {
		if left := deadline.Sub(now); left < ttl {
			ttl = left
		}
	}
	return ttl
}

// SubmitReview принимает рецензию читателя: IN_PROGRESS → SUBMITTED, срок снимается.
func (e *Engine) SubmitReview(ctx context.Context, readerID, assignmentID int64, reviewURL, text string) (*model.Assignment, error) {
	reviewURL = strings.TrimSpace(reviewURL)
	if !validation.IsValidReviewURL(reviewURL) {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "review url must be an absolute http(s) link")
	}
	if text != "" && !validation.IsValidReviewText(text) {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "review text is blank or too long")
	}

	var res *model.Assignment
	err := e.do(ctx, "SubmitReview", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if a.ReaderID != readerID {
			return apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("assignment %d belongs to another reader", a.ID))
		}

		now := e.clock()
		if a.State == model.StateInProgress && a.Overdue(now) {
			return apperr.Wrap(apperr.ErrDeadlineAlreadyPassed, fmt.Sprintf("assignment %d expired at %s", a.ID, a.DeadlineAt))
		}
		if err := e.transition(u, a, model.StateSubmitted); err != nil {
			return err
		}
		a.SubmittedAt = &now
		a.DeadlineAt = nil
		a.ReviewURL = reviewURL
		a.ReviewText = text
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		c.ReviewsDelivered++
		c.PendingReviews++
		c.UpdatedAt = now
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}

		u.touchCampaign(c)
		u.note(model.EventReviewSubmitted, a, "")
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAssignment(res), nil
}

// ValidateReview фиксирует результат внешней проверки рецензии. Подтверждённая рецензия
// переходит в VALIDATED, отклонённая отменяется с освобождением слота.
func (e *Engine) ValidateReview(ctx context.Context, assignmentID int64, approved bool, comment string) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "ValidateReview", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if a.State != model.StateSubmitted {
			return apperr.Wrap(apperr.ErrInvalidStateTransition,
				fmt.Sprintf("assignment %d has no review awaiting validation (state %s)", a.ID, a.State))
		}

		now := e.clock()
		if !approved {
			reason := "review rejected"
			if comment != "" {
				reason += ": " + comment
			}
			c.ReviewsRejected++
			if _, err := e.releaseSlot(ctx, tx, u, c, a, model.StateCancelled, reason); err != nil {
				return err
			}
			u.note(model.EventReviewValidated, a, reason)
			res = a
			return nil
		}

		if err := e.transition(u, a, model.StateValidated); err != nil {
			return err
		}
		a.ValidatedAt = &now
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		c.ReviewsValidated++
		c.PendingReviews--
		c.UpdatedAt = now
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}

		u.touchCampaign(c)
		u.note(model.EventReviewValidated, a, "")
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAssignment(res), nil
}

// SettleAssignment завершает выплату: VALIDATED → COMPLETED. Резерв сторнируется,
// кошелёк читателя пополняется; с автора больше ничего не списывается. Кампания
// завершается, когда число завершённых рецензий достигает цели.
func (e *Engine) SettleAssignment(ctx context.Context, assignmentID int64) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "SettleAssignment", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if err := e.transition(u, a, model.StateCompleted); err != nil {
			return err
		}
		now := e.clock()
		a.CompletedAt = &now

		keys := append(reservationKeys(a), accountKey{a.ReaderID, model.AccountReaderWallet})
		if c.ReviewsCompleted+1 >= c.TargetReviews && !c.Status.Terminal() && c.Status != model.CampaignDraft {
			as, err := tx.CampaignAssignments(ctx, c.ID)
			if err != nil {
				return fmt.Errorf("load campaign assignments: %w", err)
			}
			keys = append(keys, closeKeys(c, as, model.CampaignCompleted)...)
		}
		if err := e.lockAccounts(ctx, tx, keys...); err != nil {
			return err
		}

		if err := e.releaseReservation(ctx, tx, u, a, "settled"); err != nil {
			return err
		}
		wallet, err := e.book.EnsureAccount(ctx, tx, a.ReaderID, model.AccountReaderWallet)
		if err != nil {
			return err
		}
		t, err := e.book.Credit(ctx, tx, ledger.Entry{
			AccountID:   wallet.ID,
			Type:        model.TxEarning,
			Amount:      a.CreditsValue * e.opts.PayoutPerCredit,
			Reason:      fmt.Sprintf("review for campaign %d", a.CampaignID),
			ReferenceID: a.ID,
		})
		if err != nil {
			return fmt.Errorf("credit reader wallet: %w", err)
		}
		u.posted(t)

		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		c.ReviewsCompleted++
		c.UpdatedAt = now
		u.touchCampaign(c)
		res = a
		if c.ReviewsCompleted >= c.TargetReviews && !c.Status.Terminal() && c.Status != model.CampaignDraft {
			return e.closeCampaign(ctx, tx, u, c, model.CampaignCompleted, "target reached")
		}
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAssignment(res), nil
}

// ManualGrantAccess — ручная выдача доступа администратором. Ожидающее назначение
// проходит SCHEDULED и APPROVED по таблице переходов; для APPROVED и IN_PROGRESS
// открывается новое окно.
func (e *Engine) ManualGrantAccess(ctx context.Context, assignmentID int64) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "ManualGrantAccess", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if c.Status.Terminal() || c.Status == model.CampaignDraft {
			return apperr.Wrap(apperr.ErrCampaignInactive, fmt.Sprintf("campaign %d is %s", c.ID, c.Status))
		}
		u.author(c)

		now := e.clock()
		switch a.State {
		case model.StateWaiting:
			if err := e.schedule(ctx, tx, u, c, a); err != nil {
				return err
			}
			if err := e.releaseMaterials(u, a); err != nil {
				return err
			}
		case model.StateScheduled:
			if err := e.releaseMaterials(u, a); err != nil {
				return err
			}
		case model.StateApproved:
			e.openAccessWindow(a)
			u.touchAssignment(a)
		case model.StateInProgress:
			deadline := now.Add(e.opts.ReviewWindow)
			a.DeadlineAt = &deadline
			a.UpdatedAt = now
			u.touchAssignment(a)
		default:
			return apperr.Wrap(apperr.ErrInvalidStateTransition,
				fmt.Sprintf("access cannot be granted to assignment %d in state %s", a.ID, a.State))
		}

		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("access granted manually", zap.Int64("assignmentID", assignmentID), zap.String("state", string(res.State)))
	return cloneAssignment(res), nil
}

// Expiry — результат истечения срока назначения.
type Expiry struct {
	Assignment  *model.Assignment
	Replacement *model.Assignment
	// Released — слот освобождён без передачи, потому что кампания не активна.
	Released bool
}

// Err возвращает ErrSlotReleaseFailed, если в активной кампании не нашлось ожидающего читателя.
// Это не ошибка операции, а исход для аудита.
func (x *Expiry) Err() error {
	if x == nil || x.Replacement != nil || x.Released {
		return nil
	}
	return apperr.Wrap(apperr.ErrSlotReleaseFailed, fmt.Sprintf("assignment %d", x.Assignment.ID))
}

// ExpireAssignment переводит просроченное назначение в EXPIRED и передаёт его слот.
// Для уже завершённого или не просроченного назначения ничего не делает и возвращает nil.
func (e *Engine) ExpireAssignment(ctx context.Context, assignmentID int64) (*Expiry, error) {
	var res *Expiry
	err := e.do(ctx, "ExpireAssignment", func(ctx context.Context, tx repository.Tx, u *unit) error {
		res = nil
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if a.State.Terminal() || !a.Overdue(e.clock()) {
			return nil
		}

		active := c.Status == model.CampaignActive
		replacement, err := e.releaseSlot(ctx, tx, u, c, a, model.StateExpired, "deadline passed")
		if err != nil {
			return err
		}
		res = &Expiry{Assignment: a, Replacement: replacement, Released: !active}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	out := &Expiry{
		Assignment:  cloneAssignment(res.Assignment),
		Replacement: cloneAssignment(res.Replacement),
		Released:    res.Released,
	}
	e.log.Info("assignment expired",
		zap.Int64("assignmentID", assignmentID), zap.Int64("campaignID", out.Assignment.CampaignID),
		zap.Bool("backfilled", out.Replacement != nil))
	return out, nil
}

// Dispatch — итог продвижения очереди кампании.
type Dispatch struct {
	Scheduled int
	Released  int
}

// AdvanceQueue продвигает очередь активной кампании: ожидающие назначения наступившей
// недели планируются, а запланированные на прошедшую дату получают материалы.
func (e *Engine) AdvanceQueue(ctx context.Context, campaignID int64) (Dispatch, error) {
	var res Dispatch
	err := e.do(ctx, "AdvanceQueue", func(ctx context.Context, tx repository.Tx, u *unit) error {
		res = Dispatch{}
		c, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if c.Status != model.CampaignActive {
			return nil
		}
		u.author(c)

		as, err := tx.CampaignAssignments(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("load campaign assignments: %w", err)
		}

		now := e.clock()
		week := c.CurrentWeek(now)
		due := func(a *model.Assignment) bool {
			return a.State == model.StateWaiting && a.ScheduledWeek <= week
		}
		var keys []accountKey
		for i := range as {
			if due(&as[i]) {
				keys = append(keys, accountKey{as[i].ReaderID, model.AccountReaderReserved})
			}
		}
		if err := e.lockAccounts(ctx, tx, keys...); err != nil {
			return err
		}

		for i := range as {
			a := &as[i]
			switch {
			case a.State == model.StateScheduled && a.ScheduledDate != nil && !a.ScheduledDate.After(now):
				if err := e.releaseMaterials(u, a); err != nil {
					return err
				}
				res.Released++
			case due(a):
				if err := e.schedule(ctx, tx, u, c, a); err != nil {
					return err
				}
				res.Scheduled++
			default:
				continue
			}
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return fmt.Errorf("update assignment: %w", err)
			}
		}
		if res.Scheduled > 0 {
			u.queueChanged(c.ID)
			u.touchCampaign(c)
		}
		return nil
	})
	return res, err
}
