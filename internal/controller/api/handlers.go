package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

const defaultNotificationLimit = 50

// NotificationLister reads a user's notifications, newest first.
type NotificationLister interface {
	ListNotifications(ctx context.Context, userID int64, limit int) ([]*model.Notification, error)
}

type handlers struct {
	svc Services
}

type availabilityRequest struct {
	Timezone            string                    `json:"timezone" validate:"required"`
	SlotIntervalMinutes int                       `json:"slot_interval_minutes" validate:"required,gt=0"`
	SlotStartPolicy     model.SlotStartPolicy     `json:"slot_start_policy"`
	Weekly              map[int][]model.TimeRange `json:"weekly"`
	Exceptions          []model.DateException     `json:"exceptions"`
}

type exceptionRequest struct {
	Date   string            `json:"date" validate:"required,datetime=2006-01-02"`
	Closed bool              `json:"closed"`
	Slots  []model.TimeRange `json:"slots"`
}

type bookRequest struct {
	TutorID         int64     `json:"tutor_id" validate:"required,gt=0"`
	StartAt         time.Time `json:"start_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0,lte=480"`
	IsTrial         bool      `json:"is_trial"`
	Notes           string    `json:"notes" validate:"max=1000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type rescheduleRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
}

type payoutAccountRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Account string `json:"account" validate:"required,max=64"`
	Bank    string `json:"bank" validate:"required,max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
}

type slotsResponse struct {
	TutorID         int64       `json:"tutor_id"`
	DurationMinutes int         `json:"duration_minutes"`
	Slots           []time.Time `json:"slots"`
}

type trialsResponse struct {
	Used        int           `json:"used"`
	UsedByTutor map[int64]int `json:"used_by_tutor"`
	TotalLimit  int           `json:"total_limit"`
	PerTutor    int           `json:"per_tutor_limit"`
}

// bindValid binds the body into req and validates it.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func tutorParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid tutor id")
	}
	return id, nil
}

func lessonParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid lesson id")
	}
	return id, nil
}

// ownTutor returns the tutor ID from the path, which must be the caller.
func ownTutor(c echo.Context) (int64, error) {
	tutorID, err := tutorParam(c)
	if err != nil {
		return 0, err
	}
	if tutorID != callerID(c) {
		return 0, service.ErrForbidden
	}
	return tutorID, nil
}

func (h *handlers) getAvailability(c echo.Context) error {
	tutorID, err := tutorParam(c)
	if err != nil {
		return err
	}
	rules, err := h.svc.Availability.Get(c.Request().Context(), tutorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *handlers) putAvailability(c echo.Context) error {
	tutorID, err := ownTutor(c)
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	rules := &model.AvailabilityRules{
		TutorID:             tutorID,
		Timezone:            req.Timezone,
		SlotIntervalMinutes: req.SlotIntervalMinutes,
		SlotStartPolicy:     req.SlotStartPolicy,
		Weekly:              req.Weekly,
		Exceptions:          req.Exceptions,
	}
	if err := h.svc.Availability.Put(c.Request().Context(), rules); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *handlers) addException(c echo.Context) error {
	tutorID, err := ownTutor(c)
	if err != nil {
		return err
	}
	var req exceptionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	rules, err := h.svc.Availability.AddException(c.Request().Context(), tutorID, model.DateException{
		Date:   req.Date,
		Closed: req.Closed,
		Slots:  req.Slots,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *handlers) removeException(c echo.Context) error {
	tutorID, err := ownTutor(c)
	if err != nil {
		return err
	}
	rules, err := h.svc.Availability.RemoveException(c.Request().Context(), tutorID, c.Param("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *handlers) listSlots(c echo.Context) error {
	tutorID, err := tutorParam(c)
	if err != nil {
		return err
	}

	var from, to time.Time
	duration := 60
	err = echo.QueryParamsBinder(c).
		MustTime("from", &from, time.RFC3339).
		MustTime("to", &to, time.RFC3339).
		Int("duration", &duration).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to must be RFC 3339 instants, duration an integer").SetInternal(err)
	}

	slots, err := h.svc.Lessons.AvailableSlots(c.Request().Context(), tutorID, from, to, duration)
	if err != nil {
		return err
	}
	if slots == nil {
		slots = []time.Time{}
	}
	return c.JSON(http.StatusOK, slotsResponse{TutorID: tutorID, DurationMinutes: duration, Slots: slots})
}

func (h *handlers) book(c echo.Context) error {
	var req bookRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	lesson, err := h.svc.Lessons.Book(c.Request().Context(), service.BookRequest{
		TutorID:         req.TutorID,
		StudentID:       callerID(c),
		StartAt:         req.StartAt,
		DurationMinutes: req.DurationMinutes,
		IsTrial:         req.IsTrial,
		Notes:           req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, lesson)
}

// partyLesson loads the lesson and checks the caller takes part in it.
func (h *handlers) partyLesson(c echo.Context) (*model.Lesson, error) {
	id, err := lessonParam(c)
	if err != nil {
		return nil, err
	}
	lesson, err := h.svc.Lessons.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	caller := callerID(c)
	if caller != lesson.TutorID && caller != lesson.StudentID {
		return nil, service.ErrForbidden
	}
	return lesson, nil
}

func (h *handlers) getLesson(c echo.Context) error {
	lesson, err := h.partyLesson(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lesson)
}

func (h *handlers) lessonSettlements(c echo.Context) error {
	lesson, err := h.partyLesson(c)
	if err != nil {
		return err
	}
	records, err := h.svc.Settlements.ListForLesson(c.Request().Context(), lesson.ID)
	if err != nil {
		return err
	}
	if records == nil {
		records = []*model.SettlementRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

type lessonOp func(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error)

// runLessonOp executes op for the caller and reports the lesson state either way.
func runLessonOp(c echo.Context, op lessonOp) error {
	id, err := lessonParam(c)
	if err != nil {
		return err
	}
	lesson, err := op(c.Request().Context(), id, callerID(c))
	if err != nil {
		return withLesson(lesson, err)
	}
	return c.JSON(http.StatusOK, lesson)
}

func (h *handlers) pay(c echo.Context) error {
	return runLessonOp(c, h.svc.Lessons.PayLesson)
}

func (h *handlers) confirm(c echo.Context) error {
	return runLessonOp(c, h.svc.Lessons.TutorConfirm)
}

func (h *handlers) reject(c echo.Context) error {
	var req reasonRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	return runLessonOp(c, func(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
		return h.svc.Lessons.TutorReject(ctx, id, actor, req.Reason)
	})
}

func (h *handlers) cancel(c echo.Context) error {
	var req reasonRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	return runLessonOp(c, func(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
		return h.svc.Lessons.StudentCancel(ctx, id, actor, req.Reason)
	})
}

func (h *handlers) requestReschedule(c echo.Context) error {
	var req rescheduleRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	return runLessonOp(c, func(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
		return h.svc.Lessons.RequestReschedule(ctx, id, actor, req.StartAt)
	})
}

func (h *handlers) approveReschedule(c echo.Context) error {
	return runLessonOp(c, h.svc.Lessons.ApproveReschedule)
}

func (h *handlers) rejectReschedule(c echo.Context) error {
	return runLessonOp(c, h.svc.Lessons.RejectReschedule)
}

func (h *handlers) complete(c echo.Context) error {
	return runLessonOp(c, h.svc.Lessons.MarkCompleted)
}

func (h *handlers) myLessons(c echo.Context) error {
	lessons, err := h.svc.Lessons.ListForUser(c.Request().Context(), callerID(c))
	if err != nil {
		return err
	}
	if lessons == nil {
		lessons = []*model.Lesson{}
	}
	return c.JSON(http.StatusOK, lessons)
}

func (h *handlers) myTrials(c echo.Context) error {
	usage, err := h.svc.Quota.Usage(c.Request().Context(), callerID(c))
	if err != nil {
		return err
	}
	total, perTutor := h.svc.Quota.Limits()
	return c.JSON(http.StatusOK, trialsResponse{
		Used:        usage.Total,
		UsedByTutor: usage.ByTutor,
		TotalLimit:  total,
		PerTutor:    perTutor,
	})
}

func (h *handlers) myNotifications(c echo.Context) error {
	limit := defaultNotificationLimit
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer").SetInternal(err)
	}
	if limit <= 0 || limit > 500 {
		limit = defaultNotificationLimit
	}

	notifications, err := h.svc.Notifications.ListNotifications(c.Request().Context(), callerID(c), limit)
	if err != nil {
		return err
	}
	if notifications == nil {
		notifications = []*model.Notification{}
	}
	return c.JSON(http.StatusOK, notifications)
}

func (h *handlers) getPayoutAccount(c echo.Context) error {
	account, err := h.svc.PayoutAccounts.Get(c.Request().Context(), callerID(c))
	if err != nil {
		return err
	}
	if account == nil {
		return echo.NewHTTPError(http.StatusNotFound, "payout account not set")
	}
	return c.JSON(http.StatusOK, account)
}

func (h *handlers) putPayoutAccount(c echo.Context) error {
	var req payoutAccountRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	account := &model.PayoutAccount{
		TutorID: callerID(c),
		Name:    req.Name,
		Account: req.Account,
		Bank:    req.Bank,
		Email:   req.Email,
	}
	if err := h.svc.PayoutAccounts.Put(c.Request().Context(), account); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, account)
}
