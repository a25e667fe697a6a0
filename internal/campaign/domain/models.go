// Package domain contains persistence models for campaign instances and enrollments.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InstanceStatus string

const (
	InstanceStatusDraft     InstanceStatus = "draft"
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
)

type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled     EnrollmentStatus = "enrolled"
	EnrollmentStatusActive       EnrollmentStatus = "active"
	EnrollmentStatusPaused       EnrollmentStatus = "paused"
	EnrollmentStatusCompleted    EnrollmentStatus = "completed"
	EnrollmentStatusUnsubscribed EnrollmentStatus = "unsubscribed"
	EnrollmentStatusBounced      EnrollmentStatus = "bounced"
)

// CampaignInstance is one running execution of a campaign template. The
// ingestion pipeline mutates only the rolled-up counters, never the status.
type CampaignInstance struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	TemplateID     snowflake.ID   `gorm:"not null"`
	Name           string         `gorm:"type:text;not null"`
	Status         InstanceStatus `gorm:"type:text;not null;default:draft"`
	TotalEnrolled  int64          `gorm:"not null;default:0"`
	TotalSent      int64          `gorm:"not null;default:0"`
	TotalDelivered int64          `gorm:"not null;default:0"`
	TotalOpened    int64          `gorm:"not null;default:0"`
	TotalClicked   int64          `gorm:"not null;default:0"`
	TotalReplied   int64          `gorm:"not null;default:0"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CampaignInstance) TableName() string { return "campaign_instances" }

// CampaignEnrollment is one contact's participation in one instance.
type CampaignEnrollment struct {
	ID           snowflake.ID     `gorm:"primaryKey"`
	InstanceID   snowflake.ID     `gorm:"not null;uniqueIndex:ux_enrollments_instance_contact"`
	ContactID    snowflake.ID     `gorm:"not null;uniqueIndex:ux_enrollments_instance_contact"`
	Status       EnrollmentStatus `gorm:"type:text;not null;default:enrolled"`
	CurrentStep  int              `gorm:"not null;default:0"`
	EnrolledAt   time.Time        `gorm:"not null"`
	NextActionAt *time.Time
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CampaignEnrollment) TableName() string { return "campaign_enrollments" }

var (
	ErrEnrollmentNotFound  = errors.New("enrollment_not_found")
	ErrInstanceIntegrity   = errors.New("instance_missing_for_enrollment")
	ErrInvalidTransition   = errors.New("invalid_enrollment_transition")
	ErrTerminalEnrollment  = errors.New("enrollment_in_terminal_status")
	ErrInvalidInstanceID   = errors.New("invalid_instance_id")
	ErrInvalidEnrollmentID = errors.New("invalid_enrollment_id")
)
