package engine

import (
	"context"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/view"
)

type transition struct {
	id       int64
	from, to model.AssignmentState
}

type note struct {
	typ        model.EventType
	assignment *model.Assignment
	reason     string
}

// unit накапливает изменения одной попытки единицы работы для публикации после фиксации.
type unit struct {
	campaigns     map[int64]*model.Campaign
	campaignOrder []int64
	authors       map[int64]int64

	assignments     map[int64]*model.Assignment
	assignmentOrder []int64

	transitions []transition
	postings    []model.TransactionType
	queue       map[int64]bool
	notes       []note
}

func newUnit() *unit {
	return &unit{
		campaigns:   make(map[int64]*model.Campaign),
		authors:     make(map[int64]int64),
		assignments: make(map[int64]*model.Assignment),
		queue:       make(map[int64]bool),
	}
}

func (u *unit) touchCampaign(c *model.Campaign) {
	if _, ok := u.campaigns[c.ID]; !ok {
		u.campaignOrder = append(u.campaignOrder, c.ID)
	}
	u.campaigns[c.ID] = c
	u.authors[c.ID] = c.AuthorID
}

func (u *unit) author(c *model.Campaign) {
	u.authors[c.ID] = c.AuthorID
}

func (u *unit) touchAssignment(a *model.Assignment) {
	if _, ok := u.assignments[a.ID]; !ok {
		u.assignmentOrder = append(u.assignmentOrder, a.ID)
	}
	u.assignments[a.ID] = a
}

func (u *unit) transitioned(a *model.Assignment, from model.AssignmentState) {
	u.touchAssignment(a)
	u.transitions = append(u.transitions, transition{id: a.ID, from: from, to: a.State})
}

func (u *unit) posted(t *model.Transaction) {
	u.postings = append(u.postings, t.Type)
}

func (u *unit) queueChanged(campaignID int64) {
	u.queue[campaignID] = true
}

func (u *unit) note(typ model.EventType, a *model.Assignment, reason string) {
	u.notes = append(u.notes, note{typ: typ, assignment: a, reason: reason})
}

// flush учитывает метрики и публикует события зафиксированной единицы работы.
func (e *Engine) flush(ctx context.Context, u *unit) {
	for _, t := range u.transitions {
		e.metrics.Transition(string(t.from), string(t.to))
	}
	for _, p := range u.postings {
		e.metrics.Posting(string(p))
	}

	if e.events == nil {
		return
	}

	now := e.clock()
	emit := func(typ model.EventType, aud model.Audience, campaignID, assignmentID, recipientID int64, payload any) {
		e.events.Emit(ctx, model.Event{
			ID:           e.ids.NextID(),
			Type:         typ,
			Audience:     aud,
			CampaignID:   campaignID,
			AssignmentID: assignmentID,
			RecipientID:  recipientID,
			Payload:      payload,
			Timestamp:    now,
		})
	}

	changed := make(map[int64]bool, len(u.transitions))
	for _, t := range u.transitions {
		changed[t.id] = true
	}

	for _, id := range u.assignmentOrder {
		a := u.assignments[id]
		emit(model.EventAssignmentUpdated, model.AudienceReader, a.CampaignID, a.ID, a.ReaderID, view.NewReaderAssignment(a))
		emit(model.EventAssignmentUpdated, model.AudienceAdmin, a.CampaignID, a.ID, 0, view.NewAdminAssignment(a))

		if !changed[id] {
			continue
		}
		if authorID, ok := u.authors[a.CampaignID]; ok && view.AuthorVisible(a) {
			emit(model.EventAssignmentStatusChanged, model.AudienceAuthor, a.CampaignID, a.ID, authorID, view.NewAuthorAssignment(a))
		}
		emit(model.EventAssignmentStatusChanged, model.AudienceAdmin, a.CampaignID, a.ID, 0, view.NewAdminAssignment(a))
	}

	for _, id := range u.campaignOrder {
		c := u.campaigns[id]
		emit(model.EventCampaignUpdated, model.AudienceAuthor, c.ID, 0, c.AuthorID, view.NewAuthorCampaign(c, now))
		emit(model.EventCampaignUpdated, model.AudienceAdmin, c.ID, 0, 0, view.NewAdminCampaign(c, now))
		if u.queue[c.ID] {
			emit(model.EventQueueChanged, model.AudienceAdmin, c.ID, 0, 0, view.NewAdminCampaign(c, now))
		}
	}

	for _, n := range u.notes {
		a := n.assignment
		switch n.typ {
		case model.EventReviewSubmitted, model.EventReviewValidated:
			if n.typ == model.EventReviewValidated {
				emit(n.typ, model.AudienceReader, a.CampaignID, a.ID, a.ReaderID, view.NewReaderAssignment(a))
			}
			if authorID, ok := u.authors[a.CampaignID]; ok && view.AuthorVisible(a) {
				emit(n.typ, model.AudienceAuthor, a.CampaignID, a.ID, authorID, view.NewAuthorAssignment(a))
			}
			emit(n.typ, model.AudienceAdmin, a.CampaignID, a.ID, 0, view.NewAdminAssignment(a))
		case model.EventSlotReleaseFailed:
			emit(n.typ, model.AudienceAdmin, a.CampaignID, a.ID, 0, view.SlotReleaseFailure{
				CampaignID:   a.CampaignID,
				AssignmentID: a.ID,
				Format:       string(a.FormatAssigned),
				Reason:       n.reason,
			})
		}
	}
}
