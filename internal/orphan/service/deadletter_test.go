package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	campaigndomain "github.com/reachforge/reachforge/internal/campaign/domain"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDeadLetterService(f *fixture) *DeadLetterService {
	return NewDeadLetterService(DeadLetterParams{
		DB:       f.db,
		Log:      zap.NewNop(),
		Clock:    f.clk,
		Ingestor: f.svc,
	})
}

func (f *fixture) seedDeadLetter(t *testing.T, payload eventdomain.Payload) *orphandomain.DeadLetterEvent {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	letter := &orphandomain.DeadLetterEvent{
		ID:         f.genID.Generate(),
		OrphanID:   f.genID.Generate(),
		Payload:    body,
		RetryCount: 5,
		Reason:     "enrollment_still_missing",
		FailedAt:   f.clk.Now(),
		CreatedAt:  f.clk.Now(),
	}
	require.NoError(t, f.db.Create(letter).Error)
	return letter
}

func TestReplay_RecordsAndMarksReplayed(t *testing.T) {
	f := newFixture(t, defaultOrphanCfg())
	instance, enrollment := f.seedCampaign(t)
	svc := newDeadLetterService(f)

	letter := f.seedDeadLetter(t, testPayload(enrollment.ID, "sg-replay-1"))

	result, err := svc.Replay(context.Background(), letter.ID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeRecorded, result.Outcome)

	var got orphandomain.DeadLetterEvent
	require.NoError(t, f.db.First(&got, letter.ID).Error)
	require.NotNil(t, got.ReplayedAt)
	assert.WithinDuration(t, f.clk.Now(), *got.ReplayedAt, time.Second)

	var gotInstance campaigndomain.CampaignInstance
	require.NoError(t, f.db.First(&gotInstance, instance.ID).Error)
	assert.Equal(t, int64(1), gotInstance.TotalDelivered)
}

func TestReplay_DuplicateStillMarksReplayed(t *testing.T) {
	f := newFixture(t, defaultOrphanCfg())
	_, enrollment := f.seedCampaign(t)
	svc := newDeadLetterService(f)

	payload := testPayload(enrollment.ID, "sg-replay-2")
	_, err := f.svc.Ingest(context.Background(), payload)
	require.NoError(t, err)

	letter := f.seedDeadLetter(t, payload)
	result, err := svc.Replay(context.Background(), letter.ID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeDuplicate, result.Outcome)

	var got orphandomain.DeadLetterEvent
	require.NoError(t, f.db.First(&got, letter.ID).Error)
	assert.NotNil(t, got.ReplayedAt)
}

func TestReplay_DeferredReentersQueueUnmarked(t *testing.T) {
	f := newFixture(t, defaultOrphanCfg())
	svc := newDeadLetterService(f)

	// The enrollment still does not exist; replay parks it on the queue again.
	letter := f.seedDeadLetter(t, testPayload(f.genID.Generate(), "sg-replay-3"))

	result, err := svc.Replay(context.Background(), letter.ID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeDeferred, result.Outcome)
	assert.Equal(t, int64(1), f.orphanCount(t))

	var got orphandomain.DeadLetterEvent
	require.NoError(t, f.db.First(&got, letter.ID).Error)
	assert.Nil(t, got.ReplayedAt)
}

func TestReplay_NotFound(t *testing.T) {
	f := newFixture(t, defaultOrphanCfg())
	svc := newDeadLetterService(f)

	_, err := svc.Replay(context.Background(), f.genID.Generate())
	assert.ErrorIs(t, err, orphandomain.ErrDeadLetterNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	f := newFixture(t, defaultOrphanCfg())
	svc := newDeadLetterService(f)

	first := f.seedDeadLetter(t, testPayload(f.genID.Generate(), "sg-list-1"))
	f.clk.Advance(time.Hour)
	second := f.seedDeadLetter(t, testPayload(f.genID.Generate(), "sg-list-2"))

	records, err := svc.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}
