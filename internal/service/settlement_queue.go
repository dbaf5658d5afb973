package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
)

const (
	DefaultMinProcessingDwell = 2 * time.Second
	DefaultMaxAttempts        = 5
	defaultSettlementBatch    = 100
)

// SettlementConfig tunes the queue. LeaseTTL bounds how long a claimed record stays
// invisible to other consumers.
type SettlementConfig struct {
	MinDwell        time.Duration
	ProviderTimeout time.Duration
	MaxAttempts     int
	LeaseTTL        time.Duration
	BatchSize       int
}

// TickResult counts what one ProcessTick did.
type TickResult struct {
	Started int
	Settled int
	Failed  int
	Retried int
	Skipped int
	Busy    bool // another tick was still running
}

// SettlementQueue moves payouts and refunds from queued to settled or failed.
type SettlementQueue struct {
	store   SettlementStore
	settler provider.Settler
	cfg     SettlementConfig
	logger  *zap.Logger
	running sync.Mutex
}

func NewSettlementQueue(store SettlementStore, settler provider.Settler, cfg SettlementConfig, logger *zap.Logger) *SettlementQueue {
	if cfg.MinDwell < 0 {
		cfg.MinDwell = 0
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LeaseTTL < cfg.ProviderTimeout {
		cfg.LeaseTTL = 2 * cfg.ProviderTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSettlementBatch
	}
	return &SettlementQueue{
		store:   store,
		settler: settler,
		cfg:     cfg,
		logger:  logger,
	}
}

// ProcessTick advances every record one step. A tick that starts while another one is
// running returns immediately with Busy set.
func (q *SettlementQueue) ProcessTick(ctx context.Context, now time.Time) (TickResult, error) {
	if !q.running.TryLock() {
		return TickResult{Busy: true}, nil
	}
	defer q.running.Unlock()

	now = now.UTC()
	var res TickResult

	queued, err := q.store.ListByStatus(ctx, model.SettlementStatusQueued, q.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list queued settlements: %w", err)
	}
	for _, rec := range queued {
		err := q.store.StartProcessing(ctx, rec.ID, now)
		if errors.Is(err, model.ErrConcurrentUpdate) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("start settlement processing: %w", err)
		}
		res.Started++
	}

	processing, err := q.store.ListByStatus(ctx, model.SettlementStatusProcessing, q.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list processing settlements: %w", err)
	}
	for _, rec := range processing {
		if !rec.DwellReached(now, q.cfg.MinDwell) {
			continue
		}

		claimed, err := q.store.Claim(ctx, rec.ID, now, now.Add(q.cfg.LeaseTTL))
		if errors.Is(err, model.ErrConcurrentUpdate) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("claim settlement: %w", err)
		}

		if err := q.settle(ctx, claimed, now, &res); err != nil {
			return res, err
		}
	}

	if res.Started+res.Settled+res.Failed+res.Retried > 0 {
		q.logger.Info("Settlement tick",
			zap.Int("started", res.Started),
			zap.Int("settled", res.Settled),
			zap.Int("failed", res.Failed),
			zap.Int("retried", res.Retried),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

func (q *SettlementQueue) settle(ctx context.Context, rec *model.SettlementRecord, now time.Time, res *TickResult) error {
	callCtx, cancel := context.WithTimeout(ctx, q.cfg.ProviderTimeout)
	result, callErr := provider.Settle(callCtx, q.settler, rec)
	cancel()

	// Остановка процесса: запись остаётся за арендой и вернётся после её истечения
	if callErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	attempts := rec.Attempts + 1
	log := q.logger.With(
		zap.String("settlement_id", rec.ID.String()),
		zap.String("kind", string(rec.Kind)),
		zap.String("lesson_id", rec.LessonID.String()),
		zap.Int("attempt", attempts),
	)

	if callErr != nil && provider.IsTransient(callErr) && attempts < q.cfg.MaxAttempts {
		err := q.store.RecordAttempt(ctx, rec.ID, attempts, callErr.Error())
		if errors.Is(err, model.ErrConcurrentUpdate) {
			res.Skipped++
			return nil
		}
		if err != nil {
			return fmt.Errorf("record settlement attempt: %w", err)
		}
		log.Warn("Settlement attempt failed, will retry", zap.Error(callErr))
		res.Retried++
		return nil
	}

	final := rec.Clone()
	final.Attempts = attempts
	outcome := model.SettlementOutcome{
		RecordID: rec.ID,
		Attempts: rec.Attempts,
		At:       now,
	}
	if callErr == nil {
		txID := result.TxID
		outcome.Status = model.SettlementStatusSettled
		outcome.ProviderTxID = &txID
	} else {
		outcome.Status = model.SettlementStatusFailed
		outcome.LastError = callErr.Error()
		final.LastError = outcome.LastError
	}
	final.Status = outcome.Status
	outcome.Notifications = []*model.Notification{settlementNotification(final, outcome.Status, now)}

	err := q.store.Finish(ctx, outcome)
	if errors.Is(err, model.ErrConcurrentUpdate) {
		res.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish settlement: %w", err)
	}

	if outcome.Status == model.SettlementStatusSettled {
		log.Info("Settlement settled", zap.String("tx_id", result.TxID))
		res.Settled++
	} else {
		log.Error("Settlement failed", zap.Error(callErr))
		res.Failed++
	}
	return nil
}

// ListForLesson returns every payout and refund recorded for the lesson.
func (q *SettlementQueue) ListForLesson(ctx context.Context, lessonID uuid.UUID) ([]*model.SettlementRecord, error) {
	records, err := q.store.ListByLesson(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list lesson settlements: %w", err)
	}
	return records, nil
}
