package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/reachforge/reachforge/internal/campaign/domain"
	campaignrepo "github.com/reachforge/reachforge/internal/campaign/repository"
	"github.com/reachforge/reachforge/internal/config"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	obsmetrics "github.com/reachforge/reachforge/internal/observability/metrics"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	"github.com/reachforge/reachforge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errDeferred signals inside the transaction that the enrollment is not
// visible yet. It never escapes Ingest.
var errDeferred = errors.New("event_deferred")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	CampaignRepo *campaignrepo.Repository
	Queue        orphandomain.Queue
	Metrics      *obsmetrics.Metrics         `optional:"true"`
	Pipeline     *obsmetrics.PipelineMetrics `optional:"true"`
	Config       config.IngestConfig         `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	campaignRepo *campaignrepo.Repository
	queue        orphandomain.Queue
	metrics      *obsmetrics.Metrics
	pipeline     *obsmetrics.PipelineMetrics
	cfg          config.IngestConfig
}

func NewService(p Params) *Service {
	cfg := p.Config
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 50 * time.Millisecond
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("event.service"),
		genID:        p.GenID,
		campaignRepo: p.CampaignRepo,
		queue:        p.Queue,
		metrics:      p.Metrics,
		pipeline:     p.Pipeline,
		cfg:          cfg,
	}
}

// Ingest runs one ingestion transaction and reports the tagged outcome. It
// never enqueues: a Deferred result leaves the decision to the caller, so the
// retry processor can re-attempt a stored orphan without duplicating it.
//
// The whole transaction runs under a deadline so a stuck lock holder cannot
// starve other writers; the resulting deadline error classifies as transient.
func (s *Service) Ingest(ctx context.Context, payload eventdomain.Payload) (eventdomain.Result, error) {
	if err := payload.Validate(); err != nil {
		return eventdomain.Result{}, err
	}

	start := time.Now()
	result, err := s.ingestTx(ctx, payload)
	s.observe(ctx, payload, result, err, time.Since(start))
	return result, err
}

func (s *Service) ingestTx(ctx context.Context, payload eventdomain.Payload) (eventdomain.Result, error) {
	enrollmentID, ok := parseEnrollmentID(payload.EnrollmentID)
	if !ok {
		return eventdomain.Result{Outcome: eventdomain.OutcomeDeferred}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	var result eventdomain.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollment, err := s.campaignRepo.FindEnrollment(ctx, tx, enrollmentID)
		if err != nil {
			return err
		}
		if enrollment == nil {
			// Not an error: the row may simply not be visible yet.
			return errDeferred
		}

		instance, err := s.campaignRepo.LockInstance(ctx, tx, enrollment.InstanceID)
		if err != nil {
			return err
		}
		if instance == nil {
			// Referential integrity is broken; retrying cannot fix it.
			s.log.Error("enrollment references missing instance",
				zap.String("enrollment_id", enrollment.ID.String()),
				zap.String("instance_id", enrollment.InstanceID.String()),
				zap.String("event_type", string(payload.EventType)),
			)
			return campaigndomain.ErrInstanceIntegrity
		}

		record, inserted, err := s.insertEvent(ctx, tx, enrollment.ID, payload)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.findByIdempotencyKey(ctx, tx, payload.IdempotencyKey())
			if err != nil {
				return err
			}
			s.log.Info("duplicate event delivery",
				zap.String("idempotency_key", payload.IdempotencyKey()),
				zap.String("event_type", string(payload.EventType)),
			)
			result = eventdomain.Result{Outcome: eventdomain.OutcomeDuplicate, Event: existing}
			return nil
		}

		if err := s.campaignRepo.IncrementCounter(ctx, tx, instance.ID, payload.EventType); err != nil {
			return err
		}

		if target, ok := terminalStatusFor(payload.EventType); ok {
			if err := s.campaignRepo.TransitionEnrollment(ctx, tx, enrollment, target); err != nil {
				return err
			}
		}

		result = eventdomain.Result{Outcome: eventdomain.OutcomeRecorded, Event: record}
		return nil
	})

	if errors.Is(err, errDeferred) {
		return eventdomain.Result{Outcome: eventdomain.OutcomeDeferred}, nil
	}
	if err != nil {
		return eventdomain.Result{}, err
	}
	return result, nil
}

// IngestWithRetry retries transient transaction failures (lock-wait timeout,
// deadlock, serialization conflict, deadline) a bounded number of times with
// exponential backoff. When retries exhaust the payload is reported Deferred,
// never dropped.
func (s *Service) IngestWithRetry(ctx context.Context, payload eventdomain.Payload) (eventdomain.Result, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		result, err := s.Ingest(ctx, payload)
		if err == nil {
			return result, nil
		}
		if !db.IsTransientErr(err) {
			return eventdomain.Result{}, err
		}
		lastErr = err

		delay := s.cfg.RetryBase << attempt
		s.log.Warn("transient ingest failure, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return eventdomain.Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	s.log.Warn("ingest retries exhausted, deferring event",
		zap.String("event_type", string(payload.EventType)),
		zap.Error(lastErr),
	)
	return eventdomain.Result{Outcome: eventdomain.OutcomeDeferred}, nil
}

// Submit is the webhook-facing entry point: it ingests with retry and, when the
// outcome is Deferred, hands the payload to the orphan queue. ErrQueueFull
// propagates so the caller can acknowledge that the event was not retained.
func (s *Service) Submit(ctx context.Context, payload eventdomain.Payload) (eventdomain.Result, error) {
	result, err := s.IngestWithRetry(ctx, payload)
	if err != nil {
		return eventdomain.Result{}, err
	}
	if result.Outcome != eventdomain.OutcomeDeferred {
		return result, nil
	}

	if err := s.queue.Enqueue(ctx, payload); err != nil {
		return eventdomain.Result{}, err
	}
	return result, nil
}

func (s *Service) insertEvent(ctx context.Context, tx *gorm.DB, enrollmentID snowflake.ID, payload eventdomain.Payload) (*eventdomain.CampaignEvent, bool, error) {
	record := &eventdomain.CampaignEvent{
		ID:             s.genID.Generate(),
		EnrollmentID:   enrollmentID,
		EventType:      payload.EventType,
		Channel:        payload.Channel,
		StepNumber:     payload.StepNumber,
		OccurredAt:     payload.Timestamp.UTC(),
		Provider:       strings.TrimSpace(payload.Provider),
		IdempotencyKey: payload.IdempotencyKey(),
		CreatedAt:      time.Now().UTC(),
	}
	if providerEventID := strings.TrimSpace(payload.ProviderEventID); providerEventID != "" {
		record.ProviderEventID = &providerEventID
	}
	if payload.Metadata != nil {
		record.Metadata = datatypes.JSONMap(payload.Metadata)
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return nil, false, nil
		}
		return nil, false, res.Error
	}
	return record, res.RowsAffected > 0, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*eventdomain.CampaignEvent, error) {
	var record eventdomain.CampaignEvent
	err := tx.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) observe(ctx context.Context, payload eventdomain.Payload, result eventdomain.Result, err error, duration time.Duration) {
	outcome := string(result.Outcome)
	if err != nil {
		outcome = "error"
	}
	s.pipeline.ObserveIngestDuration(outcome, duration)
	if s.metrics != nil {
		s.metrics.RecordEventIngested(ctx, string(payload.EventType), string(payload.Channel), outcome)
	}
}

// terminalStatusFor maps event types that end or complete an enrollment.
func terminalStatusFor(eventType eventdomain.EventType) (campaigndomain.EnrollmentStatus, bool) {
	switch eventType {
	case eventdomain.EventTypeBounced:
		return campaigndomain.EnrollmentStatusBounced, true
	case eventdomain.EventTypeUnsubscribed:
		return campaigndomain.EnrollmentStatusUnsubscribed, true
	case eventdomain.EventTypeReplied:
		return campaigndomain.EnrollmentStatusCompleted, true
	default:
		return "", false
	}
}

func parseEnrollmentID(raw string) (snowflake.ID, bool) {
	value := strings.TrimSpace(raw)
	if value == "" || value == "null" {
		return 0, false
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
