package main

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/app"
	"github.com/Freeeeeet/tutorbook/internal/config"
	"github.com/Freeeeeet/tutorbook/internal/controller/api"
	"github.com/Freeeeeet/tutorbook/internal/notify"
	"github.com/Freeeeeet/tutorbook/internal/provider"
	"github.com/Freeeeeet/tutorbook/internal/repository"
	"github.com/Freeeeeet/tutorbook/internal/repository/memory"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

// stores groups the persistence ports. The memory store fills all of them.
type stores struct {
	rules         service.RulesStore
	lessons       service.LessonStore
	settlements   service.SettlementStore
	accounts      service.PayoutAccountStore
	outbox        notify.Outbox
	notifications api.NotificationLister
}

// runtime is everything a command needs, built once from the config.
type runtime struct {
	cfg          *config.Config
	logger       *zap.Logger
	pool         *pgxpool.Pool
	availability *service.AvailabilityService
	quota        *service.QuotaTracker
	lessons      *service.LessonService
	queue        *service.SettlementQueue
	accounts     *service.PayoutAccountService
	stores       stores
}

func loadRuntime(ctx context.Context, inMemory bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := app.NewLogger(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}

	if inMemory {
		store := memory.NewStore()
		rt.stores = stores{
			rules:         store,
			lessons:       store,
			settlements:   store,
			accounts:      store,
			outbox:        store,
			notifications: store,
		}
		logger.Warn("Using in-memory storage, data is lost on exit")
	} else {
		if err := cfg.RequireDB(); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("create db pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		rt.pool = pool

		notifications := repository.NewNotificationRepository(pool)
		rt.stores = stores{
			rules:         repository.NewAvailabilityRepository(pool),
			lessons:       repository.NewLessonRepository(pool),
			settlements:   repository.NewSettlementRepository(pool),
			accounts:      repository.NewPayoutAccountRepository(pool),
			outbox:        notifications,
			notifications: notifications,
		}
		logger.Info("✅ Connected to database")
	}

	rt.accounts = service.NewPayoutAccountService(rt.stores.accounts, logger)
	payments, err := newProvider(cfg, rt.accounts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	pricing, err := service.NewFlatRatePricing(cfg.HourlyRateMinor, cfg.Currency, cfg.CommissionRate)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create pricing: %w", err)
	}

	rt.availability = service.NewAvailabilityService(rt.stores.rules, logger)
	rt.quota = service.NewQuotaTracker(rt.stores.lessons, cfg.TrialTotalLimit, cfg.TrialPerTutorLimit)
	rt.lessons = service.NewLessonService(rt.stores.lessons, rt.availability, rt.quota, pricing, payments,
		service.LessonConfig{
			ExpiryGrace:     cfg.LessonExpiryGrace,
			ProviderTimeout: cfg.ProviderTimeout,
		}, logger)
	rt.queue = service.NewSettlementQueue(rt.stores.settlements, payments, service.SettlementConfig{
		MinDwell:        cfg.MinProcessingDwell,
		ProviderTimeout: cfg.ProviderTimeout,
		MaxAttempts:     cfg.SettlementMaxAttempts,
	}, logger)

	logger.Info("Runtime ready",
		zap.String("environment", cfg.Environment),
		zap.String("payment_provider", payments.Name()),
		zap.Bool("in_memory", inMemory),
	)
	return rt, nil
}

func newProvider(cfg *config.Config, beneficiaries provider.BeneficiaryResolver) (provider.Provider, error) {
	switch cfg.PaymentProvider {
	case config.ProviderFake:
		return provider.NewFake(), nil
	case config.ProviderMidtrans:
		return provider.NewMidtrans(cfg.MidtransServerKey, cfg.MidtransIrisKey, cfg.MidtransProduction, beneficiaries), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

// newBot returns nil when no Telegram token is configured.
func (rt *runtime) newBot() (*bot.Bot, error) {
	if rt.cfg.TelegramToken == "" {
		return nil, nil
	}
	b, err := bot.New(rt.cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

func (rt *runtime) newSink(b *bot.Bot) notify.Sink {
	if b == nil {
		return notify.NewLogSink(rt.logger)
	}
	return notify.NewTelegramSink(b)
}

func (rt *runtime) newDispatcher(b *bot.Bot) *notify.Dispatcher {
	return notify.NewDispatcher(rt.stores.outbox, rt.newSink(b), 0, rt.logger).
		WithMaxAttempts(rt.cfg.NotifyMaxAttempts)
}

func (rt *runtime) newScheduler(dispatcher *notify.Dispatcher) *app.Scheduler {
	return app.NewScheduler(rt.lessons, rt.queue, dispatcher, app.SchedulerConfig{
		SettlementTick: rt.cfg.SettlementTick,
		NotifyTick:     rt.cfg.NotifyTick,
		SweepSchedule:  rt.cfg.SweepSchedule,
	}, rt.logger)
}

func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	_ = rt.logger.Sync()
}
