// Package api exposes the lesson engine as a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/service"
)

type Options struct {
	Address        string
	JWTSecret      []byte
	Debug          bool
	DisableReqLogs bool
}

// Services are the operations the API serves.
type Services struct {
	Availability   *service.AvailabilityService
	Lessons        *service.LessonService
	Quota          *service.QuotaTracker
	Settlements    *service.SettlementQueue
	PayoutAccounts *service.PayoutAccountService
	Notifications  NotificationLister
}

type Server struct {
	opts   Options
	app    *echo.Echo
	logger *zap.Logger
}

func NewServer(opts Options, svc Services, logger *zap.Logger) *Server {
	s := &Server{
		opts:   opts,
		app:    echo.New(),
		logger: logger,
	}
	s.setup(svc)
	return s
}

func (s *Server) setup(svc Services) {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug
	s.app.JSONSerializer = sonicSerializer{}
	s.app.Validator = newRequestValidator()
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.logger)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(requestLogger(s.logger))
	}
	s.app.Use(middleware.Recover())

	s.app.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	h := &handlers{svc: svc}
	auth := authMiddleware(s.opts.JWTSecret)

	tutors := s.app.Group("/tutors", auth)
	tutors.GET("/:id/availability", h.getAvailability)
	tutors.PUT("/:id/availability", h.putAvailability)
	tutors.POST("/:id/availability/exceptions", h.addException)
	tutors.DELETE("/:id/availability/exceptions/:date", h.removeException)
	tutors.GET("/:id/slots", h.listSlots)

	lessons := s.app.Group("/lessons", auth)
	lessons.POST("", h.book)
	lessons.GET("/:id", h.getLesson)
	lessons.GET("/:id/settlements", h.lessonSettlements)
	lessons.POST("/:id/pay", h.pay)
	lessons.POST("/:id/confirm", h.confirm)
	lessons.POST("/:id/reject", h.reject)
	lessons.POST("/:id/cancel", h.cancel)
	lessons.POST("/:id/reschedule", h.requestReschedule)
	lessons.POST("/:id/reschedule/approve", h.approveReschedule)
	lessons.POST("/:id/reschedule/reject", h.rejectReschedule)
	lessons.POST("/:id/complete", h.complete)

	me := s.app.Group("/me", auth)
	me.GET("/lessons", h.myLessons)
	me.GET("/trials", h.myTrials)
	me.GET("/notifications", h.myNotifications)
	me.GET("/payout-account", h.getPayoutAccount)
	me.PUT("/payout-account", h.putPayoutAccount)
}

// Start serves until ctx is cancelled, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("address", s.opts.Address))
		errCh <- s.app.Start(s.opts.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	}
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}
