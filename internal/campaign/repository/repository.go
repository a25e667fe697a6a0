package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/reachforge/reachforge/internal/campaign/domain"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	"gorm.io/gorm"
)

// Repository serializes access to one instance's counter set. All mutating
// methods expect to run inside the caller's transaction.
type Repository struct{}

func New() *Repository { return &Repository{} }

type instanceRow struct {
	ID     snowflake.ID
	Status campaigndomain.InstanceStatus
}

// counterColumns maps event types to instance counter columns. Event types
// outside this map are recorded without a counter effect. Column names are
// fixed here, never taken from input.
var counterColumns = map[eventdomain.EventType]string{
	eventdomain.EventTypeSent:      "total_sent",
	eventdomain.EventTypeDelivered: "total_delivered",
	eventdomain.EventTypeOpened:    "total_opened",
	eventdomain.EventTypeClicked:   "total_clicked",
	eventdomain.EventTypeReplied:   "total_replied",
}

// CounterColumn returns the instance counter column for an event type, if any.
func CounterColumn(eventType eventdomain.EventType) (string, bool) {
	column, ok := counterColumns[eventType]
	return column, ok
}

// LockInstance acquires an exclusive row lock on the campaign instance for the
// remainder of the transaction. On sqlite the whole database is a single-writer
// lock already, so a plain read substitutes.
func (r *Repository) LockInstance(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*campaigndomain.CampaignInstance, error) {
	query := `SELECT id, status
	 FROM campaign_instances
	 WHERE id = ?`
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query += `
	 FOR UPDATE`
	}

	var row instanceRow
	if err := tx.WithContext(ctx).Raw(query, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &campaigndomain.CampaignInstance{ID: row.ID, Status: row.Status}, nil
}

// IncrementCounter adds one to the counter mapped from eventType. Must be
// called while holding the instance row lock.
func (r *Repository) IncrementCounter(ctx context.Context, tx *gorm.DB, id snowflake.ID, eventType eventdomain.EventType) error {
	column, ok := counterColumns[eventType]
	if !ok {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE campaign_instances
		 SET `+column+` = `+column+` + 1,
		     updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
}

// FindEnrollment loads an enrollment by id. A missing row returns (nil, nil):
// the caller treats it as not-yet-visible, not as an error.
func (r *Repository) FindEnrollment(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*campaigndomain.CampaignEnrollment, error) {
	var enrollment campaigndomain.CampaignEnrollment
	err := tx.WithContext(ctx).Where("id = ?", id).First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &enrollment, nil
}

// TransitionEnrollment moves an enrollment to the target status if the state
// machine allows it. An illegal transition is a silent no-op: a terminal status
// is durable and a late event must not revert it.
func (r *Repository) TransitionEnrollment(ctx context.Context, tx *gorm.DB, enrollment *campaigndomain.CampaignEnrollment, to campaigndomain.EnrollmentStatus) error {
	if !campaigndomain.CanTransitionEnrollment(enrollment.Status, to) {
		return nil
	}
	err := tx.WithContext(ctx).
		Model(&campaigndomain.CampaignEnrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, enrollment.Status).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return err
	}
	enrollment.Status = to
	return nil
}
