package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/reachforge/reachforge/internal/clock"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DeadLetterParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Ingestor eventdomain.Ingestor
}

// DeadLetterService exposes the administrative surface over the dead-letter
// table: inspection and explicit replay.
type DeadLetterService struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	ingestor eventdomain.Ingestor
}

func NewDeadLetterService(p DeadLetterParams) *DeadLetterService {
	return &DeadLetterService{
		db:       p.DB,
		log:      p.Log.Named("orphan.deadletter"),
		clock:    p.Clock,
		ingestor: p.Ingestor,
	}
}

// List returns dead letters newest-first.
func (s *DeadLetterService) List(ctx context.Context, limit, offset int) ([]orphandomain.DeadLetterEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var records []orphandomain.DeadLetterEvent
	err := s.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}

// Replay pushes a dead letter back through the ingestion entry point. The row
// is kept for audit; replayed_at marks it resolved when the payload lands. A
// replay that defers again re-enters the orphan queue and leaves the row
// unmarked.
func (s *DeadLetterService) Replay(ctx context.Context, id snowflake.ID) (eventdomain.Result, error) {
	var record orphandomain.DeadLetterEvent
	err := s.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventdomain.Result{}, orphandomain.ErrDeadLetterNotFound
		}
		return eventdomain.Result{}, err
	}

	var payload eventdomain.Payload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return eventdomain.Result{}, err
	}

	result, err := s.ingestor.Submit(ctx, payload)
	if err != nil {
		return eventdomain.Result{}, err
	}

	if result.Outcome == eventdomain.OutcomeRecorded || result.Outcome == eventdomain.OutcomeDuplicate {
		now := s.clock.Now()
		err = s.db.WithContext(ctx).
			Model(&orphandomain.DeadLetterEvent{}).
			Where("id = ?", record.ID).
			Update("replayed_at", now).Error
		if err != nil {
			return eventdomain.Result{}, err
		}
	}

	s.log.Info("dead letter replayed",
		zap.String("dead_letter_id", record.ID.String()),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}

type QueueResult struct {
	fx.Out

	Service *QueueService
	Queue   orphandomain.Queue
}

func ProvideQueue(p QueueParams) QueueResult {
	svc := NewQueueService(p)
	return QueueResult{Service: svc, Queue: svc}
}

var Module = fx.Module("orphan",
	fx.Provide(
		ProvideQueue,
		NewWorker,
		NewDeadLetterService,
	),
)
