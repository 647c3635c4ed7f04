// Package lifecycle содержит статические таблицы переходов для назначений и кампаний.
package lifecycle

import (
	"fmt"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

var assignmentTransitions = map[model.AssignmentState][]model.AssignmentState{
	model.StateWaiting:    {model.StateScheduled, model.StateCancelled, model.StateExpired},
	model.StateScheduled:  {model.StateApproved, model.StateCancelled, model.StateExpired},
	model.StateApproved:   {model.StateInProgress, model.StateCancelled, model.StateExpired},
	model.StateInProgress: {model.StateSubmitted, model.StateCancelled, model.StateExpired},
	model.StateSubmitted:  {model.StateValidated, model.StateCancelled, model.StateExpired},
	model.StateValidated:  {model.StateCompleted, model.StateCancelled, model.StateExpired},
	model.StateExpired:    {model.StateReassigned},
	model.StateCancelled:  {model.StateReassigned},
}

var campaignTransitions = map[model.CampaignStatus][]model.CampaignStatus{
	model.CampaignDraft:  {model.CampaignActive, model.CampaignCancelled},
	model.CampaignActive: {model.CampaignPaused, model.CampaignCompleted, model.CampaignCancelled},
	model.CampaignPaused: {model.CampaignActive, model.CampaignCompleted, model.CampaignCancelled},
}

// CanTransition сообщает, разрешён ли переход назначения from → to.
func CanTransition(from, to model.AssignmentState) bool {
	for _, s := range assignmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition переводит назначение в состояние to. При недопустимом переходе
// возвращает ErrInvalidStateTransition и не изменяет назначение.
func Transition(a *model.Assignment, to model.AssignmentState) error {
	if !CanTransition(a.State, to) {
		return apperr.Wrap(apperr.ErrInvalidStateTransition,
			fmt.Sprintf("assignment %d: %s -> %s", a.ID, a.State, to))
	}
	a.State = to
	return nil
}

// CanTransitionCampaign сообщает, разрешён ли переход кампании from → to.
func CanTransitionCampaign(from, to model.CampaignStatus) bool {
	for _, s := range campaignTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionCampaign переводит кампанию в статус to либо возвращает ErrInvalidStateTransition.
func TransitionCampaign(c *model.Campaign, to model.CampaignStatus) error {
	if !CanTransitionCampaign(c.Status, to) {
		return apperr.Wrap(apperr.ErrInvalidStateTransition,
			fmt.Sprintf("campaign %d: %s -> %s", c.ID, c.Status, to))
	}
	c.Status = to
	return nil
}
