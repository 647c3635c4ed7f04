package engine

import (
	"context"
	"fmt"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// GetCampaign возвращает кампанию. Автор видит только свои кампании, читатель — только активные.
func (e *Engine) GetCampaign(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch caller.Role {
	case model.RoleAdmin:
	case model.RoleAuthor:
		if c.AuthorID != caller.ID {
			return nil, apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("campaign %d belongs to another author", c.ID))
		}
	default:
		if c.Status != model.CampaignActive {
			return nil, apperr.ErrCampaignNotFound
		}
	}
	return c, nil
}

// ListCampaigns возвращает кампании, доступные вызывающему: свои для автора, активные для
// читателя, кампании в статусе status для администратора.
func (e *Engine) ListCampaigns(ctx context.Context, caller model.Caller, status model.CampaignStatus) ([]model.Campaign, error) {
	switch caller.Role {
	case model.RoleAuthor:
		return e.store.ListCampaignsByAuthor(ctx, caller.ID)
	case model.RoleAdmin:
		if status == "" {
			status = model.CampaignActive
		}
		return e.store.ListCampaigns(ctx, status)
	default:
		return e.store.ListCampaigns(ctx, model.CampaignActive)
	}
}

// CampaignAssignments возвращает назначения кампании автору или администратору.
// Отбор видимых автору назначений выполняет проекция.
func (e *Engine) CampaignAssignments(ctx context.Context, caller model.Caller, campaignID int64) ([]model.Assignment, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(c.AuthorID) || caller.Role == model.RoleReader {
		return nil, apperr.Wrap(apperr.ErrForbidden, fmt.Sprintf("campaign %d belongs to another author", c.ID))
	}
	return e.store.ListAssignmentsByCampaign(ctx, campaignID)
}

// ReaderAssignments возвращает назначения читателя.
func (e *Engine) ReaderAssignments(ctx context.Context, readerID int64) ([]model.Assignment, error) {
	return e.store.ListAssignmentsByReader(ctx, readerID)
}

// GetAssignment возвращает назначение читателю-владельцу или администратору.
func (e *Engine) GetAssignment(ctx context.Context, caller model.Caller, assignmentID int64) (*model.Assignment, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if caller.Admin() || (caller.Role == model.RoleReader && a.ReaderID == caller.ID) {
		return a, nil
	}
	return nil, apperr.ErrAssignmentNotFound
}
