// Package domain contains the orphaned-event queue and dead-letter models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	"gorm.io/datatypes"
)

// OrphanedEvent is a queued copy of an inbound payload that could not be
// attached to an enrollment at arrival time. The retry processor mutates
// RetryCount/NextRetryAt on every attempt; the row is deleted on success or on
// transition to the dead-letter table.
type OrphanedEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"`
	EnqueuedAt  time.Time      `gorm:"not null"`
	RetryCount  int            `gorm:"not null;default:0"`
	NextRetryAt time.Time      `gorm:"not null;index"`
	LastError   string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrphanedEvent) TableName() string { return "orphaned_events" }

// DeadLetterEvent is the terminal home of an event that exhausted all retries.
// Rows are never auto-deleted or auto-replayed; replay is an explicit
// administrative action.
type DeadLetterEvent struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	OrphanID   snowflake.ID   `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
	RetryCount int            `gorm:"not null"`
	Reason     string         `gorm:"type:text;not null"`
	FailedAt   time.Time      `gorm:"not null"`
	ReplayedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DeadLetterEvent) TableName() string { return "dead_letter_events" }

// Queue accepts payloads that could not be ingested yet. The ingestion handler
// depends on this interface so the deferral path stays one-directional.
type Queue interface {
	Enqueue(ctx context.Context, payload eventdomain.Payload) error
}

var (
	ErrQueueFull          = errors.New("orphan_queue_full")
	ErrDeadLetterNotFound = errors.New("dead_letter_not_found")
)
