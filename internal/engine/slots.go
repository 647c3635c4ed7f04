package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/lifecycle"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

// transition проверяет переход по таблице и фиксирует его в единице работы.
func (e *Engine) transition(u *unit, a *model.Assignment, to model.AssignmentState) error {
	from := a.State
	if err := lifecycle.Transition(a, to); err != nil {
		return err
	}
	a.UpdatedAt = e.clock()
	u.transitioned(a, from)
	return nil
}

// schedule переводит назначение WAITING → SCHEDULED и резервирует выплату читателю.
func (e *Engine) schedule(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign, a *model.Assignment) error {
	if err := e.transition(u, a, model.StateScheduled); err != nil {
		return err
	}

	now := e.clock()
	date := c.WeekStart(a.ScheduledWeek)
	if date.Before(now) {
		date = now
	}
	a.ScheduledDate = &date

	acc, err := e.book.EnsureAccount(ctx, tx, a.ReaderID, model.AccountReaderReserved)
	if err != nil {
		return err
	}
	t, err := e.book.Credit(ctx, tx, ledger.Entry{
		AccountID:   acc.ID,
		Type:        model.TxAdjustment,
		Amount:      a.CreditsValue * e.opts.PayoutPerCredit,
		Reason:      fmt.Sprintf("reservation for assignment %d", a.ID),
		ReferenceID: a.ID,
	})
	if err != nil {
		return fmt.Errorf("reserve payout: %w", err)
	}
	u.posted(t)
	a.ReservationTxID = &t.ID
	return nil
}

// releaseMaterials переводит назначение SCHEDULED → APPROVED и открывает окно доступа.
func (e *Engine) releaseMaterials(u *unit, a *model.Assignment) error {
	if err := e.transition(u, a, model.StateApproved); err != nil {
		return err
	}
	e.openAccessWindow(a)
	return nil
}

func (e *Engine) openAccessWindow(a *model.Assignment) {
	now := e.clock()
	deadline := now.Add(AccessWindow(a.FormatAssigned))
	a.MaterialsReleasedAt = &now
	a.DeadlineAt = &deadline
	a.UpdatedAt = now
}

// releaseReservation сторнирует резерв выплаты читателю, если он был.
func (e *Engine) releaseReservation(ctx context.Context, tx repository.Tx, u *unit, a *model.Assignment, reason string) error {
	if a.ReservationTxID == nil {
		return nil
	}
	t, err := e.book.Refund(ctx, tx, *a.ReservationTxID, reason)
	if err != nil {
		return fmt.Errorf("reverse reservation of assignment %d: %w", a.ID, err)
	}
	u.posted(t)
	return nil
}

// vacate переводит назначение в CANCELLED или EXPIRED, освобождает его слот и резерв
// и, если кампания активна, передаёт слот следующему ожидающему читателю.
// Возвращает назначение, получившее слот, или nil.
func (e *Engine) vacate(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign, a *model.Assignment, to model.AssignmentState, reason string) (*model.Assignment, error) {
	prev := a.State
	if err := e.transition(u, a, to); err != nil {
		return nil, err
	}
	a.EndReason = reason

	switch prev {
	case model.StateSubmitted:
		c.ReviewsDelivered--
		c.PendingReviews--
	case model.StateValidated:
		c.ReviewsDelivered--
		c.ReviewsValidated--
	}
	if to == model.StateExpired {
		c.ReviewsExpired++
	}

	var cand *model.Assignment
	if c.Status == model.CampaignActive {
		as, err := tx.CampaignAssignments(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load campaign assignments: %w", err)
		}
		cand = backfillCandidate(as, a)
	}

	keys := reservationKeys(a)
	if cand != nil {
		keys = append(keys, accountKey{cand.ReaderID, model.AccountReaderReserved})
	}
	if c.Status.Terminal() {
		keys = append(keys, accountKey{c.AuthorID, model.AccountAuthorCredits})
	}
	if err := e.lockAccounts(ctx, tx, keys...); err != nil {
		return nil, err
	}

	if err := e.releaseReservation(ctx, tx, u, a, reason); err != nil {
		return nil, err
	}

	c.TotalAssignedReaders--
	if !a.IsBufferAssignment {
		c.CreditsCommitted -= a.CreditsValue
	}

	var replacement *model.Assignment
	if c.Status == model.CampaignActive {
		var err error
		replacement, err = e.backfill(ctx, tx, u, c, a, cand)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("update assignment: %w", err)
	}

	c.UpdatedAt = e.clock()
	u.touchCampaign(c)
	u.queueChanged(c.ID)
	return replacement, nil
}

// backfillCandidate выбирает ожидающее назначение той же кампании и формата
// с наименьшей позицией в очереди.
func backfillCandidate(as []model.Assignment, vacated *model.Assignment) *model.Assignment {
	var best *model.Assignment
	for i := range as {
		a := &as[i]
		if a.ID == vacated.ID || a.State != model.StateWaiting || a.FormatAssigned != vacated.FormatAssigned {
			continue
		}
		if best == nil || a.QueuePosition < best.QueuePosition {
			best = a
		}
	}
	return best
}

// backfill передаёт освобождённый слот кандидату cand. Видимый слот переходит
// к кандидату вместе с закреплёнными кредитами. Если кандидата нет, записывается
// событие аудита, а операция завершается успешно.
func (e *Engine) backfill(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign, vacated, cand *model.Assignment) (*model.Assignment, error) {
	if cand == nil {
		u.note(model.EventSlotReleaseFailed, vacated, apperr.ErrSlotReleaseFailed.Message)
		e.log.Info("released slot has no waiting reader",
			zap.Int64("campaignID", c.ID), zap.Int64("assignmentID", vacated.ID),
			zap.String("format", string(vacated.FormatAssigned)))
		return nil, nil
	}

	if !vacated.IsBufferAssignment && cand.IsBufferAssignment {
		if c.CreditsAvailable() >= cand.CreditsValue {
			cand.IsBufferAssignment = false
			c.CreditsCommitted += cand.CreditsValue
		}
	}

	cand.ScheduledWeek = c.CurrentWeek(e.clock())
	if err := e.schedule(ctx, tx, u, c, cand); err != nil {
		return nil, err
	}
	if err := tx.UpdateAssignment(ctx, cand); err != nil {
		return nil, fmt.Errorf("update backfilled assignment: %w", err)
	}

	if err := e.transition(u, vacated, model.StateReassigned); err != nil {
		return nil, err
	}
	id := cand.ID
	vacated.ReplacedByID = &id
	return cand, nil
}

// releaseSlot освобождает слот назначения и при закрытой кампании возвращает автору
// неизрасходованные кредиты.
func (e *Engine) releaseSlot(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign, a *model.Assignment, to model.AssignmentState, reason string) (*model.Assignment, error) {
	replacement, err := e.vacate(ctx, tx, u, c, a, to, reason)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		if err := e.reconcile(ctx, tx, u, c); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	return replacement, nil
}

// reconcile возвращает автору кредиты кампании, не закреплённые за назначениями.
func (e *Engine) reconcile(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign) error {
	unspent := c.CreditsAvailable()
	if unspent <= 0 {
		return nil
	}

	acc, err := e.book.EnsureAccount(ctx, tx, c.AuthorID, model.AccountAuthorCredits)
	if err != nil {
		return err
	}
	t, err := e.book.Credit(ctx, tx, ledger.Entry{
		AccountID:   acc.ID,
		Type:        model.TxAdjustment,
		Amount:      unspent,
		Reason:      fmt.Sprintf("campaign %d reconciliation", c.ID),
		ReferenceID: c.ID,
	})
	if err != nil {
		return fmt.Errorf("refund unspent credits: %w", err)
	}
	u.posted(t)
	c.CreditsRefunded += unspent
	u.touchCampaign(c)
	return nil
}

// closeCampaign переводит кампанию в конечный статус, отменяет назначения и сверяет кредиты.
func (e *Engine) closeCampaign(ctx context.Context, tx repository.Tx, u *unit, c *model.Campaign, to model.CampaignStatus, reason string) error {
	if err := lifecycle.TransitionCampaign(c, to); err != nil {
		return err
	}
	now := e.clock()
	c.CompletedAt = &now
	c.UpdatedAt = now
	u.touchCampaign(c)

	as, err := tx.CampaignAssignments(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load campaign assignments: %w", err)
	}
	if err := e.lockAccounts(ctx, tx, closeKeys(c, as, to)...); err != nil {
		return err
	}
	for i := range as {
		a := &as[i]
		if !closes(a, to) {
			continue
		}
		if _, err := e.vacate(ctx, tx, u, c, a, model.StateCancelled, reason); err != nil {
			return err
		}
	}

	if err := e.reconcile(ctx, tx, u, c); err != nil {
		return err
	}
	if err := tx.UpdateCampaign(ctx, c); err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}

	e.log.Info("campaign closed",
		zap.Int64("campaignID", c.ID), zap.String("status", string(to)), zap.String("reason", reason))
	return nil
}

// closes сообщает, отменяется ли назначение при переводе кампании в статус to.
// При завершении отменяются только ожидающие и запланированные назначения, при отмене — все.
func closes(a *model.Assignment, to model.CampaignStatus) bool {
	if a.State.Terminal() {
		return false
	}
	return to != model.CampaignCompleted || a.State == model.StateWaiting || a.State == model.StateScheduled
}

// closeKeys перечисляет счета, затрагиваемые закрытием кампании.
func closeKeys(c *model.Campaign, as []model.Assignment, to model.CampaignStatus) []accountKey {
	keys := []accountKey{{c.AuthorID, model.AccountAuthorCredits}}
	for i := range as {
		if closes(&as[i], to) {
			keys = append(keys, reservationKeys(&as[i])...)
		}
	}
	return keys
}
