package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributes(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "opened"),
		attribute.String("channel", "email"),
		attribute.String("contact_email", "person@example.com"),
		attribute.String("enrollment_id", "12345"),
	)

	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		keys = append(keys, string(attr.Key))
	}
	assert.ElementsMatch(t, []string{"event_type", "channel"}, keys)
}

func TestRecordersAreNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordEventIngested(context.Background(), "sent", "email", "recorded")
	m.RecordRateLimitAllowed(context.Background(), "sendgrid", "events")
	m.RecordRateLimitDenied(context.Background(), "sendgrid", "events", "provider")
}

func TestNewBuildsInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "reachforge-test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordEventIngested(context.Background(), "sent", "email", "recorded")
}
