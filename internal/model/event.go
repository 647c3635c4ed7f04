package model

import "time"

// EventType описывает тип события жизненного цикла.
type EventType string

const (
	EventCampaignUpdated         EventType = "campaign.updated"
	EventAssignmentUpdated       EventType = "assignment.updated"
	EventQueueChanged            EventType = "queue.changed"
	EventAssignmentStatusChanged EventType = "assignment.status_changed"
	EventReviewSubmitted         EventType = "review.submitted"
	EventReviewValidated         EventType = "review.validated"
	EventSlotReleaseFailed       EventType = "slot.release_failed"
)

// Audience описывает получателя события.
type Audience string

const (
	AudienceAuthor Audience = "author"
	AudienceReader Audience = "reader"
	AudienceAdmin  Audience = "admin"
)

// Event — событие, публикуемое подписчикам. Доставка «хотя бы один раз»,
// потребители дедуплицируют по ID.
type Event struct {
	ID           int64     `json:"id" cbor:"id"`
	Type         EventType `json:"type" cbor:"type"`
	Audience     Audience  `json:"audience" cbor:"audience"`
	CampaignID   int64     `json:"campaignId" cbor:"campaignId"`
	AssignmentID int64     `json:"assignmentId,omitempty" cbor:"assignmentId,omitempty"`
	RecipientID  int64     `json:"recipientId,omitempty" cbor:"recipientId,omitempty"`
	Payload      any       `json:"payload" cbor:"payload"`
	Timestamp    time.Time `json:"timestamp" cbor:"timestamp"`
}
