package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Freeeeeet/tutorbook/internal/app"
	"github.com/Freeeeeet/tutorbook/internal/controller"
	"github.com/Freeeeeet/tutorbook/internal/controller/api"
)

const shutdownTimeout = 10 * time.Second

var serveOpts struct {
	memory  bool
	migrate bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the Telegram bot and the background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := loadRuntime(ctx, serveOpts.memory)
		if err != nil {
			return err
		}
		defer rt.Close()

		if serveOpts.migrate && rt.pool != nil {
			migrator, err := app.NewMigrator(rt.pool, rt.cfg.MigrationsDir, rt.logger)
			if err != nil {
				return err
			}
			err = migrator.Up(ctx)
			_ = migrator.Close()
			if err != nil {
				return err
			}
		}

		return serve(ctx, rt)
	},
}

func serve(ctx context.Context, rt *runtime) error {
	logger := rt.logger

	if rt.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve the API")
	}

	b, err := rt.newBot()
	if err != nil {
		return err
	}
	if b == nil {
		logger.Warn("TELEGRAM_TOKEN is not set, notifications go to the log only")
	}

	dispatcher := rt.newDispatcher(b)
	scheduler := rt.newScheduler(dispatcher)

	server := api.NewServer(api.Options{
		Address:   rt.cfg.HTTPAddress,
		JWTSecret: []byte(rt.cfg.JWTSecret),
		Debug:     !rt.cfg.IsProduction(),
	}, api.Services{
		Availability:   rt.availability,
		Lessons:        rt.lessons,
		Quota:          rt.quota,
		Settlements:    rt.queue,
		PayoutAccounts: rt.accounts,
		Notifications:  rt.stores.notifications,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		return server.Start(gctx)
	})

	if b != nil {
		botController := controller.NewBotController(b, rt.lessons, rt.quota, logger)
		g.Go(func() error {
			if err := botController.RegisterHandlers(gctx); err != nil {
				// Меню команд не критично, бот продолжает работать
				logger.Warn("Bot commands were not registered", zap.Error(err))
			}
			return botController.Start(gctx)
		})
	}

	logger.Info("🚀 tutord is running", zap.String("address", rt.cfg.HTTPAddress))
	err = g.Wait()

	// Последний проход отправки, чтобы не терять уведомления при остановке
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.DispatchOnce(flushCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveOpts.memory, "memory", false, "keep all data in memory instead of PostgreSQL")
	serveCmd.Flags().BoolVar(&serveOpts.migrate, "migrate", false, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
