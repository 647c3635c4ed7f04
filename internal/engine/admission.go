package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/planner"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

// ApplyToCampaign принимает заявку читателя. Проверка ёмкости, выбор слота (видимый
// предпочтительнее буферного) и выдача позиции в очереди выполняются атомарно под
// блокировкой кампании.
func (e *Engine) ApplyToCampaign(ctx context.Context, readerID, campaignID int64, format model.Format) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "ApplyToCampaign", func(ctx context.Context, tx repository.Tx, u *unit) error {
		a, err := e.admit(ctx, tx, u, readerID, campaignID, format)
		res = a
		return err
	})
	if err != nil {
		outcome := apperr.ReasonOf(err)
		if outcome == "" {
			outcome = "error"
		}
		e.metrics.Admission(outcome)
		return nil, err
	}

	outcome := "visible"
	if res.IsBufferAssignment {
		outcome = "buffer"
	}
	e.metrics.Admission(outcome)
	e.log.Info("application admitted",
		zap.Int64("campaignID", campaignID), zap.Int64("readerID", readerID),
		zap.Int64("assignmentID", res.ID), zap.Int("queuePosition", res.QueuePosition))
	return cloneAssignment(res), nil
}

func (e *Engine) admit(ctx context.Context, tx repository.Tx, u *unit, readerID, campaignID int64, format model.Format) (*model.Assignment, error) {
	if !format.Valid() {
		return nil, apperr.Wrap(apperr.ErrFormatUnavailable, fmt.Sprintf("unknown format %q", format))
	}

	c, err := tx.LockCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignActive {
		return nil, apperr.Wrap(apperr.ErrCampaignInactive, fmt.Sprintf("campaign %d is %s", c.ID, c.Status))
	}
	if !c.AvailableFormats.Contains(format) {
		return nil, apperr.Wrap(apperr.ErrFormatUnavailable, fmt.Sprintf("campaign %d does not offer %s", c.ID, format))
	}

	as, err := tx.CampaignAssignments(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load campaign assignments: %w", err)
	}
	for i := range as {
		if as[i].ReaderID == readerID && !as[i].State.Terminal() {
			return nil, apperr.Wrap(apperr.ErrDuplicateApplication,
				fmt.Sprintf("reader %d already holds assignment %d", readerID, as[i].ID))
		}
	}

	now := e.clock()
	week := c.CurrentWeek(now)
	buffer, ok := planner.Compute(c, as, week).Slot()
	if !ok {
		return nil, apperr.Wrap(apperr.ErrCampaignFull, fmt.Sprintf("campaign %d has no slots in week %d", c.ID, week))
	}

	credits := format.Credits()
	if !buffer {
		if c.CreditsAvailable() < credits {
			return nil, apperr.Wrap(apperr.ErrInsufficientAuthorCredits,
				fmt.Sprintf("campaign %d has %d uncommitted credits", c.ID, c.CreditsAvailable()))
		}
		c.CreditsCommitted += credits
	}

	a := &model.Assignment{
		ID:                 e.ids.NextID(),
		CampaignID:         c.ID,
		ReaderID:           readerID,
		State:              model.StateWaiting,
		FormatAssigned:     format,
		CreditsValue:       credits,
		QueuePosition:      nextQueuePosition(as),
		ScheduledWeek:      week,
		IsBufferAssignment: buffer,
		AppliedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.InsertAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	c.TotalAssignedReaders++
	c.UpdatedAt = now
	if err := tx.UpdateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}

	u.touchCampaign(c)
	u.touchAssignment(a)
	u.queueChanged(c.ID)
	return a, nil
}

// nextQueuePosition возвращает позицию после наибольшей выданной в кампании.
func nextQueuePosition(as []model.Assignment) int {
	highest := 0
	for i := range as {
		if as[i].QueuePosition > highest {
			highest = as[i].QueuePosition
		}
	}
	return highest + 1
}

// WithdrawAssignment отзывает заявку читателя. Разрешено только в WAITING и SCHEDULED:
// слот освобождается и сразу передаётся следующему в очереди, резерв выплаты сторнируется,
// а списание с автора остаётся в бюджете кампании.
func (e *Engine) WithdrawAssignment(ctx context.Context, readerID, assignmentID int64) (*model.Assignment, error) {
	var res *model.Assignment
	err := e.do(ctx, "WithdrawAssignment", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, a, err := e.lockPair(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if a.ReaderID != readerID {
			return apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("assignment %d belongs to another reader", a.ID))
		}
		if a.State != model.StateWaiting && a.State != model.StateScheduled {
			return apperr.Wrap(apperr.ErrInvalidStateTransition,
				fmt.Sprintf("assignment %d cannot be withdrawn in state %s", a.ID, a.State))
		}

		if _, err := e.releaseSlot(ctx, tx, u, c, a, model.StateCancelled, "withdrawn by reader"); err != nil {
			return err
		}
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("assignment withdrawn", zap.Int64("assignmentID", assignmentID), zap.Int64("readerID", readerID))
	return cloneAssignment(res), nil
}

// RemoveReaderFromCampaign принудительно отменяет активное назначение читателя в кампании.
func (e *Engine) RemoveReaderFromCampaign(ctx context.Context, campaignID, readerID int64, reason string) (*model.Assignment, error) {
	if reason == "" {
		reason = "removed by administrator"
	}

	var res *model.Assignment
	err := e.do(ctx, "RemoveReaderFromCampaign", func(ctx context.Context, tx repository.Tx, u *unit) error {
		c, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		as, err := tx.CampaignAssignments(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("load campaign assignments: %w", err)
		}

		var target int64
		for i := range as {
			if as[i].ReaderID == readerID && !as[i].State.Terminal() {
				target = as[i].ID
				break
			}
		}
		if target == 0 {
			return apperr.Wrap(apperr.ErrAssignmentNotFound,
				fmt.Sprintf("reader %d has no active assignment in campaign %d", readerID, campaignID))
		}

		a, err := tx.LockAssignment(ctx, target)
		if err != nil {
			return err
		}
		if _, err := e.releaseSlot(ctx, tx, u, c, a, model.StateCancelled, reason); err != nil {
			return err
		}
		res = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("reader removed from campaign",
		zap.Int64("campaignID", campaignID), zap.Int64("readerID", readerID), zap.String("reason", reason))
	return cloneAssignment(res), nil
}
