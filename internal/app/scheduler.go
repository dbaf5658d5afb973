package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/notify"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

type SchedulerConfig struct {
	SettlementTick time.Duration
	NotifyTick     time.Duration
	SweepSchedule  string // cron expression, e.g. "@every 1m"
}

// Scheduler управляет фоновыми задачами: очередь выплат, истечение уроков, доставка уведомлений
type Scheduler struct {
	lessons    *service.LessonService
	queue      *service.SettlementQueue
	dispatcher *notify.Dispatcher
	cfg        SchedulerConfig
	cron       *cron.Cron
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewScheduler создаёт новый планировщик
func NewScheduler(
	lessons *service.LessonService,
	queue *service.SettlementQueue,
	dispatcher *notify.Dispatcher,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		lessons:    lessons,
		queue:      queue,
		dispatcher: dispatcher,
		cfg:        cfg,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()}))),
		logger:     logger,
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting background scheduler",
		zap.Duration("settlement_tick", s.cfg.SettlementTick),
		zap.Duration("notify_tick", s.cfg.NotifyTick),
		zap.String("sweep_schedule", s.cfg.SweepSchedule),
	)

	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() { s.SweepOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	s.cron.Start()

	s.runEvery(ctx, "settlement", s.cfg.SettlementTick, s.SettleOnce)
	if s.dispatcher != nil {
		s.runEvery(ctx, "notify", s.cfg.NotifyTick, s.DispatchOnce)
	}
	return nil
}

// Stop останавливает фоновые задачи и ждёт завершения текущих
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
		<-s.cron.Stop().Done()
		s.wg.Wait()
	})
}

func (s *Scheduler) runEvery(ctx context.Context, name string, every time.Duration, task func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				task(ctx)
			case <-s.stopChan:
				s.logger.Info("Background task stopped", zap.String("task", name))
				return
			case <-ctx.Done():
				s.logger.Info("Background task cancelled", zap.String("task", name))
				return
			}
		}
	}()
}

// SweepOnce persists expiry of lessons past their grace period.
func (s *Scheduler) SweepOnce(ctx context.Context) {
	swept, err := s.lessons.SweepExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("Expiry sweep failed", zap.Int("swept", swept), zap.Error(err))
	}
}

// SettleOnce runs one settlement queue tick.
func (s *Scheduler) SettleOnce(ctx context.Context) {
	if _, err := s.queue.ProcessTick(ctx, s.now()); err != nil && ctx.Err() == nil {
		s.logger.Error("Settlement tick failed", zap.Error(err))
	}
}

// DispatchOnce delivers pending notifications.
func (s *Scheduler) DispatchOnce(ctx context.Context) {
	if _, err := s.dispatcher.DispatchOnce(ctx, s.now()); err != nil && ctx.Err() == nil {
		s.logger.Error("Notification dispatch failed", zap.Error(err))
	}
}

// cronLogger направляет логи cron в zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
