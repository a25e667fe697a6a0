package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/reachforge/reachforge/internal/campaign/domain"
	"github.com/reachforge/reachforge/internal/clock"
	"github.com/reachforge/reachforge/internal/config"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	obsmetrics "github.com/reachforge/reachforge/internal/observability/metrics"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type WorkerParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Ingestor eventdomain.Ingestor
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
	Config   config.OrphanConfig         `optional:"true"`
}

// Worker drains the orphan queue on a fixed interval. A cycle that is still
// running when the next tick fires makes the tick a no-op, so cycles never
// overlap within one process; across processes, claimed rows carry a
// next_retry_at lease so two workers cannot pick up the same orphan.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	ingestor eventdomain.Ingestor
	pipeline *obsmetrics.PipelineMetrics
	cfg      config.OrphanConfig

	busy atomic.Bool
}

func NewWorker(p WorkerParams) *Worker {
	cfg := p.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 25 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Minute
	}
	return &Worker{
		db:       p.DB,
		log:      p.Log.Named("orphan.worker"),
		genID:    p.GenID,
		clock:    p.Clock,
		ingestor: p.Ingestor,
		pipeline: p.Pipeline,
		cfg:      cfg,
	}
}

// RunForever ticks until ctx is cancelled.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("orphan retry processor started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
	)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("orphan retry processor stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single retry cycle. It returns the number of orphans
// processed; a skipped cycle returns 0.
func (w *Worker) RunOnce(ctx context.Context) int {
	if !w.busy.CompareAndSwap(false, true) {
		w.pipeline.IncCycleSkipped()
		w.log.Warn("previous retry cycle still running, skipping tick")
		return 0
	}
	defer w.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		w.pipeline.ObserveRetryBatchDuration(time.Since(start))
	}()

	claimed, err := w.claimDue(ctx)
	if err != nil {
		w.log.Error("failed to claim due orphans", zap.Error(err))
		return 0
	}

	processed := 0
	for _, orphan := range claimed {
		if ctx.Err() != nil {
			break
		}
		w.process(ctx, orphan)
		processed++
	}
	if processed > 0 {
		w.log.Info("retry cycle complete",
			zap.Int("processed", processed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return processed
}

// claimDue selects due orphans oldest-retry-first and leases them for the
// length of one cycle by pushing next_retry_at forward, so a concurrent worker
// skips them even after this transaction commits.
func (w *Worker) claimDue(ctx context.Context) ([]orphandomain.OrphanedEvent, error) {
	now := w.clock.Now()
	var claimed []orphandomain.OrphanedEvent
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT *
		 FROM orphaned_events
		 WHERE next_retry_at <= ?
		 ORDER BY next_retry_at ASC
		 LIMIT ?`
		if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
			query += `
		 FOR UPDATE SKIP LOCKED`
		}
		if err := tx.Raw(query, now, w.cfg.BatchSize).Scan(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(claimed))
		for _, orphan := range claimed {
			ids = append(ids, orphan.ID)
		}
		return tx.Model(&orphandomain.OrphanedEvent{}).
			Where("id IN ?", ids).
			Update("next_retry_at", now.Add(w.cfg.RunTimeout)).Error
	})
	return claimed, err
}

func (w *Worker) process(ctx context.Context, orphan orphandomain.OrphanedEvent) {
	var payload eventdomain.Payload
	if err := json.Unmarshal(orphan.Payload, &payload); err != nil {
		// The stored body can never become parseable; dead-letter it now.
		w.deadLetter(ctx, orphan, "unparseable_payload: "+err.Error())
		return
	}

	result, err := w.ingestor.IngestWithRetry(ctx, payload)
	if err != nil {
		if errors.Is(err, campaigndomain.ErrInstanceIntegrity) {
			// Broken referential integrity cannot heal with more retries.
			orphan.RetryCount++
			w.deadLetter(ctx, orphan, err.Error())
			return
		}
		w.fail(ctx, orphan, err.Error())
		return
	}

	switch result.Outcome {
	case eventdomain.OutcomeRecorded, eventdomain.OutcomeDuplicate:
		w.resolve(ctx, orphan, result.Outcome)
	default:
		w.fail(ctx, orphan, "enrollment_still_missing")
	}
}

func (w *Worker) resolve(ctx context.Context, orphan orphandomain.OrphanedEvent, outcome eventdomain.Outcome) {
	err := w.db.WithContext(ctx).Delete(&orphandomain.OrphanedEvent{}, orphan.ID).Error
	if err != nil {
		w.log.Error("failed to remove resolved orphan", zap.Error(err), zap.String("orphan_id", orphan.ID.String()))
		return
	}
	w.pipeline.IncRetrySucceeded()
	w.pipeline.ObserveRetryAttempts(orphan.RetryCount + 1)
	w.log.Info("orphaned event resolved",
		zap.String("orphan_id", orphan.ID.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("attempts", orphan.RetryCount+1),
	)
}

func (w *Worker) fail(ctx context.Context, orphan orphandomain.OrphanedEvent, reason string) {
	w.pipeline.IncRetryFailed()

	retryCount := orphan.RetryCount + 1
	if retryCount >= w.cfg.MaxRetries {
		orphan.RetryCount = retryCount
		w.deadLetter(ctx, orphan, reason)
		return
	}

	now := w.clock.Now()
	err := w.db.WithContext(ctx).
		Model(&orphandomain.OrphanedEvent{}).
		Where("id = ?", orphan.ID).
		Updates(map[string]any{
			"retry_count":   retryCount,
			"next_retry_at": now.Add(w.backoff(retryCount)),
			"last_error":    reason,
			"updated_at":    now,
		}).Error
	if err != nil {
		w.log.Error("failed to reschedule orphan", zap.Error(err), zap.String("orphan_id", orphan.ID.String()))
		return
	}
	w.log.Info("orphan retry failed, rescheduled",
		zap.String("orphan_id", orphan.ID.String()),
		zap.Int("retry_count", retryCount),
		zap.Duration("backoff", w.backoff(retryCount)),
	)
}

// deadLetter moves an exhausted orphan to the dead-letter table in one
// transaction so the event exists in exactly one of the two tables.
func (w *Worker) deadLetter(ctx context.Context, orphan orphandomain.OrphanedEvent, reason string) {
	now := w.clock.Now()
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &orphandomain.DeadLetterEvent{
			ID:         w.genID.Generate(),
			OrphanID:   orphan.ID,
			Payload:    orphan.Payload,
			RetryCount: orphan.RetryCount,
			Reason:     reason,
			FailedAt:   now,
			CreatedAt:  now,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return tx.Delete(&orphandomain.OrphanedEvent{}, orphan.ID).Error
	})
	if err != nil {
		w.log.Error("failed to dead-letter orphan", zap.Error(err), zap.String("orphan_id", orphan.ID.String()))
		return
	}
	w.pipeline.IncDeadLettered()
	w.pipeline.ObserveRetryAttempts(orphan.RetryCount)
	w.log.Error("orphaned event dead-lettered",
		zap.String("orphan_id", orphan.ID.String()),
		zap.Int("retry_count", orphan.RetryCount),
		zap.String("reason", reason),
	)
}

// backoff doubles per attempt from the base and is clamped at the cap.
func (w *Worker) backoff(retryCount int) time.Duration {
	delay := w.cfg.BackoffBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= w.cfg.BackoffCap {
			return w.cfg.BackoffCap
		}
	}
	if delay > w.cfg.BackoffCap {
		return w.cfg.BackoffCap
	}
	return delay
}
