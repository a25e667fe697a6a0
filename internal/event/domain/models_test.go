package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPayloadIdempotencyKey(t *testing.T) {
	ts := time.Date(2026, 8, 28, 10, 30, 0, 123456789, time.UTC)

	t.Run("provider key wins", func(t *testing.T) {
		p := Payload{
			EnrollmentID:    "42",
			EventType:       EventTypeOpened,
			Timestamp:       ts,
			ProviderEventID: "  sg-abc-123  ",
		}
		assert.Equal(t, "sg-abc-123", p.IdempotencyKey())
	})

	t.Run("fallback tuple key", func(t *testing.T) {
		p := Payload{
			EnrollmentID: "42",
			EventType:    EventTypeOpened,
			Timestamp:    ts,
		}
		assert.Equal(t, "42:opened:2026-08-28T10:30:00.123456789Z", p.IdempotencyKey())
	})

	t.Run("fallback normalizes timestamp to UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+7", 7*3600)
		a := Payload{EnrollmentID: "42", EventType: EventTypeSent, Timestamp: ts}
		b := Payload{EnrollmentID: "42", EventType: EventTypeSent, Timestamp: ts.In(loc)}
		assert.Equal(t, a.IdempotencyKey(), b.IdempotencyKey())
	})
}

func TestPayloadValidate(t *testing.T) {
	valid := Payload{
		EventType: EventTypeSent,
		Channel:   ChannelEmail,
		Timestamp: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	invalidType := valid
	invalidType.EventType = "forwarded"
	assert.ErrorIs(t, invalidType.Validate(), ErrInvalidEventType)

	invalidChannel := valid
	invalidChannel.Channel = "sms"
	assert.ErrorIs(t, invalidChannel.Validate(), ErrInvalidChannel)

	zeroTime := valid
	zeroTime.Timestamp = time.Time{}
	assert.ErrorIs(t, zeroTime.Validate(), ErrInvalidTimestamp)
}
