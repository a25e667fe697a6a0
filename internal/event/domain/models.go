// Package domain contains the campaign event model and the ingestion contract.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeSent               EventType = "sent"
	EventTypeDelivered          EventType = "delivered"
	EventTypeOpened             EventType = "opened"
	EventTypeClicked            EventType = "clicked"
	EventTypeReplied            EventType = "replied"
	EventTypeBounced            EventType = "bounced"
	EventTypeUnsubscribed       EventType = "unsubscribed"
	EventTypeConnectionAccepted EventType = "connection_accepted"
	EventTypeConnectionRejected EventType = "connection_rejected"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
)

// CampaignEvent is one recorded delivery or engagement fact.
//
// IdempotencyKey is the provider event id when the provider supplied one, else a
// key derived from (enrollment_id, event_type, timestamp). One unique index on
// the column serves both cases, so a duplicate delivery resolves to the same row.
type CampaignEvent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	EnrollmentID    snowflake.ID `gorm:"not null;index"`
	EventType       EventType    `gorm:"type:text;not null"`
	Channel         Channel      `gorm:"type:text;not null"`
	StepNumber      *int
	OccurredAt      time.Time `gorm:"not null"`
	Provider        string    `gorm:"type:text"`
	ProviderEventID *string   `gorm:"type:text"`
	IdempotencyKey  string    `gorm:"type:text;not null;uniqueIndex:ux_campaign_events_idempotency"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CampaignEvent) TableName() string { return "campaign_events" }

// Payload is the inbound webhook event, already authenticated upstream.
// EnrollmentID may be empty: providers can deliver the webhook before the local
// enrollment row is visible.
type Payload struct {
	EnrollmentID    string         `json:"enrollment_id"`
	EventType       EventType      `json:"event_type" binding:"required"`
	Channel         Channel        `json:"channel" binding:"required"`
	StepNumber      *int           `json:"step_number"`
	Timestamp       time.Time      `json:"timestamp" binding:"required"`
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"provider_event_id"`
	Metadata        map[string]any `json:"metadata"`
}

// IdempotencyKey returns the provider-supplied key, or the derived fallback
// tuple key when the provider did not supply one.
func (p Payload) IdempotencyKey() string {
	if key := strings.TrimSpace(p.ProviderEventID); key != "" {
		return key
	}
	return fmt.Sprintf("%s:%s:%s", strings.TrimSpace(p.EnrollmentID), p.EventType, p.Timestamp.UTC().Format(time.RFC3339Nano))
}

// Outcome tags the result of one ingestion attempt. Control flow is carried in
// the return value rather than error types: deferral and duplication are normal
// operation, not failures.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is the outcome of an ingestion attempt. Event is set for Recorded and
// Duplicate outcomes.
type Result struct {
	Outcome Outcome
	Event   *CampaignEvent
}

// Ingestor is the ingestion entry point. The webhook handler and dead-letter
// replay use Submit, which parks Deferred payloads on the orphan queue; the
// retry processor uses IngestWithRetry directly because it already holds the
// stored orphan and must not duplicate it.
type Ingestor interface {
	Ingest(ctx context.Context, payload Payload) (Result, error)
	IngestWithRetry(ctx context.Context, payload Payload) (Result, error)
	Submit(ctx context.Context, payload Payload) (Result, error)
}

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidChannel   = errors.New("invalid_channel")
	ErrInvalidTimestamp = errors.New("invalid_timestamp")
)

var validEventTypes = map[EventType]struct{}{
	EventTypeSent:               {},
	EventTypeDelivered:          {},
	EventTypeOpened:             {},
	EventTypeClicked:            {},
	EventTypeReplied:            {},
	EventTypeBounced:            {},
	EventTypeUnsubscribed:       {},
	EventTypeConnectionAccepted: {},
	EventTypeConnectionRejected: {},
}

// Validate checks the enum fields and timestamp. Full request validation is an
// upstream collaborator; this is the pipeline's own floor.
func (p Payload) Validate() error {
	if _, ok := validEventTypes[p.EventType]; !ok {
		return ErrInvalidEventType
	}
	if p.Channel != ChannelEmail && p.Channel != ChannelLinkedIn {
		return ErrInvalidChannel
	}
	if p.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}
