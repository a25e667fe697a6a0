package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/reachforge/reachforge/internal/clock"
	"github.com/reachforge/reachforge/internal/config"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	obsmetrics "github.com/reachforge/reachforge/internal/observability/metrics"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type QueueParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
	Config   config.OrphanConfig         `optional:"true"`
}

// orphanQueueLockID keys the advisory lock that serializes capacity checks
// across concurrent enqueuers.
const orphanQueueLockID = 874011

// QueueService stores deferred payloads for the retry processor. Capacity is
// bounded: when the queue is full the newest arrival is rejected rather than
// evicting older entries, which are closer to their enrollment becoming
// visible.
type QueueService struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	pipeline *obsmetrics.PipelineMetrics
	cfg      config.OrphanConfig
}

func NewQueueService(p QueueParams) *QueueService {
	cfg := p.Config
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	return &QueueService{
		db:       p.DB,
		log:      p.Log.Named("orphan.queue"),
		genID:    p.GenID,
		clock:    p.Clock,
		pipeline: p.Pipeline,
		cfg:      cfg,
	}
}

func (q *QueueService) Enqueue(ctx context.Context, payload eventdomain.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	now := q.clock.Now()
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Count-then-insert is only exact when enqueuers are serialized.
		// sqlite admits a single writer per database; postgres needs the
		// advisory lock, held until this transaction commits.
		if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", orphanQueueLockID).Error; err != nil {
				return err
			}
		}

		var depth int64
		if err := tx.Model(&orphandomain.OrphanedEvent{}).Count(&depth).Error; err != nil {
			return err
		}
		if depth >= int64(q.cfg.Capacity) {
			return orphandomain.ErrQueueFull
		}

		record := &orphandomain.OrphanedEvent{
			ID:          q.genID.Generate(),
			Payload:     body,
			EnqueuedAt:  now,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Create(record).Error
	})
	if err != nil {
		if err == orphandomain.ErrQueueFull {
			q.pipeline.IncOrphanDropped()
			q.log.Warn("orphan queue at capacity, rejecting event",
				zap.Int("capacity", q.cfg.Capacity),
				zap.String("event_type", string(payload.EventType)),
			)
		}
		return err
	}

	q.pipeline.IncOrphanEnqueued()
	q.log.Info("event parked on orphan queue",
		zap.String("event_type", string(payload.EventType)),
		zap.String("enrollment_id", payload.EnrollmentID),
	)
	return nil
}
