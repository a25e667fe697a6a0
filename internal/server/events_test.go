package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	campaigndomain "github.com/reachforge/reachforge/internal/campaign/domain"
	campaignrepo "github.com/reachforge/reachforge/internal/campaign/repository"
	"github.com/reachforge/reachforge/internal/clock"
	"github.com/reachforge/reachforge/internal/config"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	eventservice "github.com/reachforge/reachforge/internal/event/service"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	orphanservice "github.com/reachforge/reachforge/internal/orphan/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	engine *gin.Engine
	genID  *snowflake.Node
	clk    *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&campaigndomain.CampaignInstance{},
		&campaigndomain.CampaignEnrollment{},
		&eventdomain.CampaignEvent{},
		&orphandomain.OrphanedEvent{},
		&orphandomain.DeadLetterEvent{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	orphanCfg := config.OrphanConfig{Capacity: 10}
	queue := orphanservice.NewQueueService(orphanservice.QueueParams{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Config: orphanCfg,
	})
	svc := eventservice.NewService(eventservice.Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		CampaignRepo: campaignrepo.New(),
		Queue:        queue,
		Config: config.IngestConfig{
			TxTimeout:  2 * time.Second,
			MaxRetries: 1,
			RetryBase:  time.Millisecond,
		},
	})
	deadLetters := orphanservice.NewDeadLetterService(orphanservice.DeadLetterParams{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    clk,
		Ingestor: svc,
	})

	engine := NewEngine(config.Config{Environment: "test", HTTPAddr: ":0"}, prometheus.NewRegistry())
	NewServer(ServerParams{
		Gin:           engine,
		Log:           zap.NewNop(),
		Ingestor:      svc,
		DeadLetterSvc: deadLetters,
	})
	return &testEnv{db: conn, engine: engine, genID: node, clk: clk}
}

func (e *testEnv) seedCampaign(t *testing.T) (*campaigndomain.CampaignInstance, *campaigndomain.CampaignEnrollment) {
	t.Helper()
	instance := &campaigndomain.CampaignInstance{
		ID:         e.genID.Generate(),
		TemplateID: e.genID.Generate(),
		Name:       "q3-outbound",
		Status:     campaigndomain.InstanceStatusActive,
	}
	require.NoError(t, e.db.Create(instance).Error)
	enrollment := &campaigndomain.CampaignEnrollment{
		ID:         e.genID.Generate(),
		InstanceID: instance.ID,
		ContactID:  e.genID.Generate(),
		Status:     campaigndomain.EnrollmentStatusActive,
		EnrolledAt: time.Now().UTC(),
	}
	require.NoError(t, e.db.Create(enrollment).Error)
	return instance, enrollment
}

func (e *testEnv) postEvent(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func eventBody(enrollmentID, providerEventID string) map[string]any {
	return map[string]any{
		"enrollment_id":     enrollmentID,
		"event_type":        "delivered",
		"channel":           "email",
		"timestamp":         "2026-08-28T08:00:00Z",
		"provider":          "sendgrid",
		"provider_event_id": providerEventID,
	}
}

func TestPostEvents_Recorded(t *testing.T) {
	env := newTestEnv(t)
	_, enrollment := env.seedCampaign(t)

	rec := env.postEvent(t, eventBody(enrollment.ID.String(), "sg-http-1"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "recorded", resp["status"])
	assert.NotEmpty(t, resp["event_id"])
}

func TestPostEvents_DuplicateReturns200(t *testing.T) {
	env := newTestEnv(t)
	_, enrollment := env.seedCampaign(t)
	body := eventBody(enrollment.ID.String(), "sg-http-2")

	first := env.postEvent(t, body)
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.postEvent(t, body)
	assert.Equal(t, http.StatusOK, second.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["status"])
}

func TestPostEvents_DeferredReturns202(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postEvent(t, eventBody(env.genID.Generate().String(), "sg-http-3"))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deferred", resp["status"])

	var count int64
	require.NoError(t, env.db.Model(&orphandomain.OrphanedEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostEvents_MalformedReturns400(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing event type", map[string]any{"channel": "email", "timestamp": "2026-08-28T08:00:00Z"}},
		{"unknown event type", map[string]any{"event_type": "forwarded", "channel": "email", "timestamp": "2026-08-28T08:00:00Z"}},
		{"unknown channel", map[string]any{"event_type": "sent", "channel": "sms", "timestamp": "2026-08-28T08:00:00Z"}},
		{"missing timestamp", map[string]any{"event_type": "sent", "channel": "email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postEvent(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostEvents_QueueFullReturns503(t *testing.T) {
	env := newTestEnv(t)

	// Capacity 10: fill the queue, then one more must be rejected.
	for i := 0; i < 10; i++ {
		rec := env.postEvent(t, eventBody(env.genID.Generate().String(), fmt.Sprintf("sg-fill-%d", i)))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.postEvent(t, eventBody(env.genID.Generate().String(), "sg-overflow"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndReplayDeadLetters(t *testing.T) {
	env := newTestEnv(t)
	_, enrollment := env.seedCampaign(t)

	payload, err := json.Marshal(eventdomain.Payload{
		EnrollmentID:    enrollment.ID.String(),
		EventType:       eventdomain.EventTypeDelivered,
		Channel:         eventdomain.ChannelEmail,
		Timestamp:       time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC),
		ProviderEventID: "sg-dead-http-1",
	})
	require.NoError(t, err)

	letter := &orphandomain.DeadLetterEvent{
		ID:         env.genID.Generate(),
		OrphanID:   env.genID.Generate(),
		Payload:    payload,
		RetryCount: 5,
		Reason:     "enrollment_still_missing",
		FailedAt:   env.clk.Now(),
	}
	require.NoError(t, env.db.Create(letter).Error)

	listReq := httptest.NewRequest(http.MethodGet, "/v1/dead-letters", nil)
	listRec := httptest.NewRecorder()
	env.engine.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), letter.ID.String())

	replayReq := httptest.NewRequest(http.MethodPost, "/v1/dead-letters/"+letter.ID.String()+"/replay", nil)
	replayRec := httptest.NewRecorder()
	env.engine.ServeHTTP(replayRec, replayReq)
	require.Equal(t, http.StatusOK, replayRec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(replayRec.Body.Bytes(), &resp))
	assert.Equal(t, "recorded", resp["status"])

	var got orphandomain.DeadLetterEvent
	require.NoError(t, env.db.First(&got, letter.ID).Error)
	assert.NotNil(t, got.ReplayedAt)
}

func TestReplayDeadLetter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/dead-letters/"+env.genID.Generate().String()+"/replay", nil)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
