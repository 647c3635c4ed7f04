package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/lifecycle"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/planner"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/validation"
)

// NewCampaign — параметры новой кампании.
type NewCampaign struct {
	Title          string
	TargetReviews  int
	ReviewsPerWeek int
	Formats        model.FormatSet
}

// CreateCampaign создаёт кампанию автора в статусе DRAFT. Перебронирование выключено
// до настройки администратором.
func (e *Engine) CreateCampaign(ctx context.Context, authorID int64, in NewCampaign) (*model.Campaign, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "title is required")
	}
	if !validation.IsValidPace(in.TargetReviews, in.ReviewsPerWeek) {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "target and weekly pace must be positive, pace not above target")
	}
	if !in.Formats.Valid() {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, fmt.Sprintf("unknown formats %q", in.Formats))
	}

	var res *model.Campaign
	err := e.do(ctx, "CreateCampaign", func(ctx context.Context, tx repository.Tx, u *unit) error {
		now := e.clock()
		c := &model.Campaign{
			ID:               e.ids.NextID(),
			AuthorID:         authorID,
			Title:            in.Title,
			TargetReviews:    in.TargetReviews,
			ReviewsPerWeek:   in.ReviewsPerWeek,
			AvailableFormats: in.Formats,
			Status:           model.CampaignDraft,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertCampaign(ctx, c); err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		u.touchCampaign(c)
		res = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneCampaign(res), nil
}

// updateCampaign блокирует кампанию, проверяет права вызывающего, применяет fn и сохраняет результат.
func (e *Engine) updateCampaign(ctx context.Context, op string, caller model.Caller, campaignID int64,
	fn func(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign) error) (*model.Campaign, error) {
	var res *model.Campaign
	err := e.do(ctx, op, func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if !caller.Owns(c.AuthorID) {
			return apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("campaign %d belongs to another author", c.ID))
		}
		if err := fn(ctx, tx, u, c); err != nil {
			return err
		}
		c.UpdatedAt = e.clock()
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}
		u.touchCampaign(c)
		res = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneCampaign(res), nil
}

// ActivateCampaign активирует кампанию и списывает с автора targetReviews × стоимость рецензии.
func (e *Engine) ActivateCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error) {
	c, err := e.updateCampaign(ctx, "ActivateCampaign", caller, campaignID,
		func(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign) error {
			if c.Status != model.CampaignDraft {
				return apperr.Wrap(apperr.ErrInvalidStateTransition, fmt.Sprintf("campaign %d is %s, not DRAFT", c.ID, c.Status))
			}
			if err := lifecycle.TransitionCampaign(c, model.CampaignActive); err != nil {
				return err
			}

			amount := int64(c.TargetReviews) * c.AvailableFormats.CostPerReview()
			acc, err := e.book.EnsureAccount(ctx, tx, c.AuthorID, model.AccountAuthorCredits)
			if err != nil {
				return err
			}
			t, err := e.book.Debit(ctx, tx, ledger.Entry{
				AccountID:   acc.ID,
				Type:        model.TxAllocation,
				Amount:      amount,
				Reason:      fmt.Sprintf("campaign %d activation", c.ID),
				ReferenceID: c.ID,
			})
			if err != nil {
				return err
			}
			u.posted(t)

			now := e.clock()
			c.CreditsAllocated = amount
			c.ActivatedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	e.log.Info("campaign activated", zap.Int64("campaignID", c.ID), zap.Int64("credits", c.CreditsAllocated))
	return c, nil
}

// PauseCampaign приостанавливает приём заявок: ACTIVE → PAUSED.
func (e *Engine) PauseCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error) {
	return e.updateCampaign(ctx, "PauseCampaign", caller, campaignID,
		func(_ context.Context, _ repository.Tx, _ *unit, c *model.Campaign) error {
			if c.Status != model.CampaignActive {
				return apperr.Wrap(apperr.ErrInvalidStateTransition, fmt.Sprintf("campaign %d is %s, not ACTIVE", c.ID, c.Status))
			}
			return lifecycle.TransitionCampaign(c, model.CampaignPaused)
		})
}

// ResumeCampaign возобновляет кампанию: PAUSED → ACTIVE.
func (e *Engine) ResumeCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error) {
	return e.updateCampaign(ctx, "ResumeCampaign", caller, campaignID,
		func(_ context.Context, _ repository.Tx, _ *unit, c *model.Campaign) error {
			if c.Status != model.CampaignPaused {
				return apperr.Wrap(apperr.ErrInvalidStateTransition, fmt.Sprintf("campaign %d is %s, not PAUSED", c.ID, c.Status))
			}
			return lifecycle.TransitionCampaign(c, model.CampaignActive)
		})
}

// CancelCampaign отменяет кампанию и все её незавершённые назначения, возвращая автору
// неизрасходованные кредиты.
func (e *Engine) CancelCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error) {
	return e.updateCampaign(ctx, "CancelCampaign", caller, campaignID,
		func(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign) error {
			return e.closeCampaign(ctx, tx, u, c, model.CampaignCancelled, "campaign cancelled")
		})
}

// ForceCompleteCampaign принудительно завершает кампанию. Назначения, уже получившие
// материалы, продолжают жизненный цикл; ожидающие и запланированные отменяются.
func (e *Engine) ForceCompleteCampaign(ctx context.Context, campaignID int64, reason string) (*model.Campaign, error) {
	if reason == "" {
		reason = "completed by administrator"
	}
	return e.updateCampaign(ctx, "ForceCompleteCampaign", model.Caller{Role: model.RoleAdmin}, campaignID,
		func(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign) error {
			return e.closeCampaign(ctx, tx, u, c, model.CampaignCompleted, reason)
		})
}

// AdjustDistribution приостанавливает автоматический расчёт темпа и задаёт ручную недельную квоту.
func (e *Engine) AdjustDistribution(ctx context.Context, campaignID int64, weeklyQuota int) (*model.Campaign, error) {
	if weeklyQuota < 0 {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "weekly quota must not be negative")
	}
	return e.updateCampaign(ctx, "AdjustDistribution", model.Caller{Role: model.RoleAdmin}, campaignID,
		func(_ context.Context, _ repository.Tx, _ *unit, c *model.Campaign) error {
			if c.Status.Terminal() {
				return apperr.Wrap(apperr.ErrCampaignInactive, fmt.Sprintf("campaign %d is %s", c.ID, c.Status))
			}
			now := e.clock()
			c.ManualDistributionOverride = true
			c.ManualWeeklyQuota = weeklyQuota
			c.DistributionPausedAt = &now
			return nil
		})
}

// ResumeDistribution возвращает автоматический расчёт темпа.
func (e *Engine) ResumeDistribution(ctx context.Context, campaignID int64) (*model.Campaign, error) {
	return e.updateCampaign(ctx, "ResumeDistribution", model.Caller{Role: model.RoleAdmin}, campaignID,
		func(_ context.Context, _ repository.Tx, _ *unit, c *model.Campaign) error {
			if !c.ManualDistributionOverride {
				return apperr.Wrap(apperr.ErrInvalidArgument, fmt.Sprintf("campaign %d has no manual distribution", c.ID))
			}
			now := e.clock()
			c.ManualDistributionOverride = false
			c.ManualWeeklyQuota = 0
			c.DistributionResumedAt = &now
			return nil
		})
}

// AdjustOverbooking меняет настройки перебронирования. Настройки, при которых уже
// назначенные читатели превысили бы предел кампании, отклоняются.
func (e *Engine) AdjustOverbooking(ctx context.Context, campaignID int64, enabled bool, percent int) (*model.Campaign, error) {
	if !validation.IsValidPercent(percent) {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, "overbooking percent must be within 0..100")
	}
	return e.updateCampaign(ctx, "AdjustOverbooking", model.Caller{Role: model.RoleAdmin}, campaignID,
		func(_ context.Context, _ repository.Tx, _ *unit, c *model.Campaign) error {
			if c.Status.Terminal() {
				return apperr.Wrap(apperr.ErrCampaignInactive, fmt.Sprintf("campaign %d is %s", c.ID, c.Status))
			}
			limit := planner.MaxAssignedFor(c.TargetReviews, enabled, percent)
			if c.TotalAssignedReaders > limit {
				return apperr.Wrap(apperr.ErrInvalidArgument,
					fmt.Sprintf("campaign %d already has %d readers, limit would be %d", c.ID, c.TotalAssignedReaders, limit))
			}
			c.OverbookingEnabled = enabled
			c.OverbookingPercent = percent
			return nil
		})
}
