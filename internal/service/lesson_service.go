package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
	"github.com/Freeeeeet/tutorbook/internal/schedule"
)

const (
	MaxLessonMinutes       = 480
	DefaultExpiryGrace     = 24 * time.Hour
	DefaultProviderTimeout = 5 * time.Second
	defaultSweepBatch      = 200
	refundChargeAttempts   = 3
	maxSlotWindow          = 93 * 24 * time.Hour
)

// SystemActor is the actor of transitions nobody triggered by hand (sweep, payment webhook).
const SystemActor int64 = 0

type LessonConfig struct {
	ExpiryGrace     time.Duration
	ProviderTimeout time.Duration
	SweepBatch      int
}

// BookRequest is a student's request for a lesson with a tutor.
type BookRequest struct {
	TutorID         int64
	StudentID       int64
	StartAt         time.Time
	DurationMinutes int
	IsTrial         bool
	Notes           string
}

// LessonService drives lessons through their lifecycle. Every operation that rejects
// an existing lesson returns its current state alongside the error.
type LessonService struct {
	lessons      LessonStore
	availability *AvailabilityService
	quota        *QuotaTracker
	pricing      Pricing
	charger      provider.Charger
	providerName string
	locks        *keyedMutex
	cfg          LessonConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewLessonService(
	lessons LessonStore,
	availability *AvailabilityService,
	quota *QuotaTracker,
	pricing Pricing,
	payments provider.Provider,
	cfg LessonConfig,
	logger *zap.Logger,
) *LessonService {
	if cfg.ExpiryGrace < 0 {
		cfg.ExpiryGrace = 0
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	return &LessonService{
		lessons:      lessons,
		availability: availability,
		quota:        quota,
		pricing:      pricing,
		charger:      payments,
		providerName: payments.Name(),
		locks:        newKeyedMutex(),
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (s *LessonService) WithClock(now func() time.Time) *LessonService {
	s.now = now
	return s
}

func (s *LessonService) clock() time.Time {
	return s.now().UTC()
}

// Book creates a lesson in one of the tutor's currently generated slots.
func (s *LessonService) Book(ctx context.Context, req BookRequest) (*model.Lesson, error) {
	if err := validateBookRequest(req); err != nil {
		return nil, err
	}

	now := s.clock()
	start := req.StartAt.UTC()
	if !start.After(now) {
		return nil, fmt.Errorf("%w: start is in the past", ErrSlotUnavailable)
	}

	rules, err := s.availability.Get(ctx, req.TutorID)
	if err != nil {
		return nil, err
	}
	if !schedule.IsBookable(rules, start, req.DurationMinutes) {
		return nil, ErrSlotUnavailable
	}

	action := model.ActionBook
	price, currency := s.pricing.Quote(req.TutorID, req.DurationMinutes)
	if req.IsTrial {
		action = model.ActionBookTrial
		price = 0
	}
	status, _ := model.NextLessonStatus(model.LessonStatusNone, action)

	lesson := &model.Lesson{
		ID:              uuid.New(),
		TutorID:         req.TutorID,
		StudentID:       req.StudentID,
		StartAt:         start,
		DurationMinutes: req.DurationMinutes,
		IsTrial:         req.IsTrial,
		PriceMinor:      price,
		Currency:        currency,
		Status:          status,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	notifications := lessonNotifications(action, lesson, req.StudentID, now)

	// Порядок захвата: сначала тьютор, потом студент
	unlockTutor := s.locks.Lock(tutorKey(req.TutorID))
	defer unlockTutor()
	unlockStudent := s.locks.Lock(studentKey(req.StudentID))
	defer unlockStudent()

	guard := func(snapshot model.BookingSnapshot) error {
		for _, other := range snapshot.TutorLessons {
			if other.Overlaps(lesson.StartAt, lesson.EndAt()) &&
				!model.DeriveStatus(other, now, s.cfg.ExpiryGrace).IsTerminal() {
				return fmt.Errorf("%w: overlaps lesson %s", ErrSlotUnavailable, other.ID)
			}
		}
		if lesson.IsTrial {
			return s.quota.Check(snapshot.Usage, lesson.TutorID)
		}
		return nil
	}

	if err := s.lessons.CreateLesson(ctx, lesson, notifications, guard); err != nil {
		if errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrTrialQuotaExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("create lesson: %w", err)
	}

	s.logger.Info("Lesson booked",
		zap.String("lesson_id", lesson.ID.String()),
		zap.Int64("tutor_id", lesson.TutorID),
		zap.Int64("student_id", lesson.StudentID),
		zap.Time("start_at", lesson.StartAt),
		zap.Bool("trial", lesson.IsTrial),
		zap.String("status", string(lesson.Status)),
	)
	return lesson, nil
}

func validateBookRequest(req BookRequest) error {
	var fields []model.FieldError
	if req.TutorID <= 0 {
		fields = append(fields, model.FieldError{Field: "tutor_id", Error: "must be positive"})
	}
	if req.StudentID <= 0 {
		fields = append(fields, model.FieldError{Field: "student_id", Error: "must be positive"})
	}
	if req.TutorID > 0 && req.TutorID == req.StudentID {
		fields = append(fields, model.FieldError{Field: "student_id", Error: "tutor cannot book own lesson"})
	}
	if req.DurationMinutes < 1 || req.DurationMinutes > MaxLessonMinutes {
		fields = append(fields, model.FieldError{Field: "duration_minutes", Error: fmt.Sprintf("must be within [1, %d]", MaxLessonMinutes)})
	}
	if req.StartAt.IsZero() {
		fields = append(fields, model.FieldError{Field: "start_at", Error: "is required"})
	}
	if len(fields) > 0 {
		return model.NewValidationError(errors.New("invalid booking request"), fields...)
	}
	return nil
}

// PayLesson charges the student through the payment provider and marks the lesson paid.
// The lesson stays locked from the status check until the paid status is written, so
// no other operation on it interleaves with the charge.
func (s *LessonService) PayLesson(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
	unlock := s.locks.Lock(lessonKey(id))
	defer unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return current, err
	}
	if actor != current.StudentID {
		return current, ErrForbidden
	}
	if _, ok := model.NextLessonStatus(current.Status, model.ActionMarkPaid); !ok {
		return current, &TransitionError{From: current.Status, Attempted: model.ActionMarkPaid}
	}
	if s.started(current) {
		return current, ErrTooLate
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	charge, err := s.charger.ChargeForLesson(chargeCtx, current)
	if err != nil {
		s.logger.Warn("Lesson charge failed",
			zap.String("lesson_id", id.String()),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
		if provider.IsTransient(err) {
			return current, fmt.Errorf("charge lesson: %w", err)
		}
		return current, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	s.logger.Info("Lesson charged",
		zap.String("lesson_id", id.String()),
		zap.String("tx_id", charge.TxID),
	)

	// Деньги уже списаны: запись доводим до конца, даже если запрос отменён
	writeCtx := context.WithoutCancel(ctx)
	lesson, err := s.transitionLocked(writeCtx, id, s.markPaid())
	if err == nil {
		return lesson, nil
	}
	if lesson != nil && lesson.PaidAt != nil {
		// платёж уже учтён другим вызовом, это тот же заказ у провайдера
		return lesson, err
	}

	s.logger.Error("Charged lesson was not marked paid, refunding",
		zap.String("lesson_id", id.String()),
		zap.String("tx_id", charge.TxID),
		zap.Error(err),
	)
	if refundErr := s.refundCharge(writeCtx, id, current.PriceMinor); refundErr != nil {
		return lesson, errors.Join(err, refundErr)
	}
	return lesson, err
}

// MarkPaid records a successful payment. Called after a charge or by a payment webhook.
func (s *LessonService) MarkPaid(ctx context.Context, id uuid.UUID) (*model.Lesson, error) {
	return s.transition(ctx, id, s.markPaid())
}

func (s *LessonService) markPaid() transition {
	return transition{
		action: model.ActionMarkPaid,
		actor:  SystemActor,
		check:  s.notStarted,
		apply: func(next *model.Lesson, now time.Time) []*model.SettlementRecord {
			paidAt := now
			next.PaidAt = &paidAt
			return nil
		},
	}
}

// refundCharge queues a full refund of a charge the lesson could not absorb. The lesson
// keeps its status; only the refund and the student's notice are written.
func (s *LessonService) refundCharge(ctx context.Context, id uuid.UUID, amount int64) error {
	for attempt := 0; attempt < refundChargeAttempts; attempt++ {
		current, err := s.lessons.GetLesson(ctx, id)
		if err != nil {
			return fmt.Errorf("get lesson: %w", err)
		}
		if current == nil {
			return ErrNotFound
		}

		now := s.clock()
		next := current.Clone()
		next.UpdatedAt = now
		refund := s.newSettlement(model.SettlementKindRefund, current.StudentID, current, amount, now)

		err = s.lessons.ApplyChange(ctx, model.LessonChange{
			Action:        model.ActionRefundCharge,
			From:          current.Status,
			Lesson:        next,
			Settlements:   []*model.SettlementRecord{refund},
			Notifications: lessonNotifications(model.ActionRefundCharge, next, SystemActor, now),
		})
		if errors.Is(err, model.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("queue charge refund: %w", err)
		}

		s.logger.Info("Charge refund queued",
			zap.String("lesson_id", id.String()),
			zap.String("settlement_id", refund.ID.String()),
			zap.Int64("amount_minor", amount),
		)
		return nil
	}
	return fmt.Errorf("queue charge refund: %w", model.ErrConcurrentUpdate)
}

// TutorConfirm accepts a paid lesson and queues the tutor's payout.
func (s *LessonService) TutorConfirm(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
	return s.transition(ctx, id, transition{
		action:    model.ActionTutorConfirm,
		actor:     actor,
		authorize: tutorOnly(actor),
		check:     s.notStarted,
		apply: func(next *model.Lesson, now time.Time) []*model.SettlementRecord {
			if !next.WasPaid() {
				return nil
			}
			share := s.pricing.TutorShare(next)
			if share <= 0 {
				return nil
			}
			return []*model.SettlementRecord{s.newSettlement(model.SettlementKindPayout, next.TutorID, next, share, now)}
		},
	})
}

// TutorReject declines a paid lesson and refunds the student in full.
func (s *LessonService) TutorReject(ctx context.Context, id uuid.UUID, actor int64, reason string) (*model.Lesson, error) {
	return s.transition(ctx, id, transition{
		action:    model.ActionTutorReject,
		actor:     actor,
		authorize: tutorOnly(actor),
		apply: func(next *model.Lesson, now time.Time) []*model.SettlementRecord {
			next.CancelReason = reason
			return s.refundIfPaid(next, now)
		},
	})
}

// StudentCancel cancels the lesson; money already taken is refunded.
func (s *LessonService) StudentCancel(ctx context.Context, id uuid.UUID, actor int64, reason string) (*model.Lesson, error) {
	return s.transition(ctx, id, transition{
		action:    model.ActionStudentCancel,
		actor:     actor,
		authorize: studentOnly(actor),
		apply: func(next *model.Lesson, now time.Time) []*model.SettlementRecord {
			next.CancelReason = reason
			return s.refundIfPaid(next, now)
		},
	})
}

// RequestReschedule proposes a new start. Either party may ask; the proposal must be a
// currently free slot of the tutor.
func (s *LessonService) RequestReschedule(ctx context.Context, id uuid.UUID, actor int64, proposed time.Time) (*model.Lesson, error) {
	proposed = proposed.UTC()

	return s.transition(ctx, id, transition{
		action:    model.ActionRequestReschedule,
		actor:     actor,
		authorize: eitherParty(actor),
		check: func(l *model.Lesson, now time.Time) error {
			if err := s.notStarted(l, now); err != nil {
				return err
			}
			if proposed.Equal(l.StartAt) {
				return model.NewValidationError(errors.New("invalid reschedule"),
					model.FieldError{Field: "proposed_start_at", Error: "equals current start"})
			}
			return s.checkFreeSlot(ctx, l, proposed, now, true)
		},
		apply: func(next *model.Lesson, _ time.Time) []*model.SettlementRecord {
			requester := actor
			next.ProposedStartAt = &proposed
			next.RescheduleRequestedBy = &requester
			return nil
		},
	})
}

// ApproveReschedule moves the lesson to the proposed start. Only the party that did not
// ask may approve.
func (s *LessonService) ApproveReschedule(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
	return s.transition(ctx, id, transition{
		action:     model.ActionApproveReschedule,
		actor:      actor,
		authorize:  otherThanRequester(actor),
		claimsSlot: true,
		check: func(l *model.Lesson, now time.Time) error {
			if err := s.notStarted(l, now); err != nil {
				return err
			}
			if l.ProposedStartAt == nil {
				return &TransitionError{From: l.Status, Attempted: model.ActionApproveReschedule}
			}
			return s.checkFreeSlot(ctx, l, *l.ProposedStartAt, now, false)
		},
		apply: func(next *model.Lesson, _ time.Time) []*model.SettlementRecord {
			next.StartAt = *next.ProposedStartAt
			next.ProposedStartAt = nil
			next.RescheduleRequestedBy = nil
			return nil
		},
	})
}

// RejectReschedule keeps the original time.
func (s *LessonService) RejectReschedule(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
	return s.transition(ctx, id, transition{
		action:    model.ActionRejectReschedule,
		actor:     actor,
		authorize: otherThanRequester(actor),
		apply: func(next *model.Lesson, _ time.Time) []*model.SettlementRecord {
			next.ProposedStartAt = nil
			next.RescheduleRequestedBy = nil
			return nil
		},
	})
}

// MarkCompleted closes a confirmed lesson once it has started.
func (s *LessonService) MarkCompleted(ctx context.Context, id uuid.UUID, actor int64) (*model.Lesson, error) {
	return s.transition(ctx, id, transition{
		action:    model.ActionMarkCompleted,
		actor:     actor,
		authorize: eitherParty(actor),
		check: func(l *model.Lesson, now time.Time) error {
			if now.Before(l.StartAt) {
				return ErrTooEarly
			}
			return nil
		},
	})
}

// SweepExpired persists the expired status of every lesson that already reads as expired
// at now. Lessons swept before are skipped by the status compare-and-set, so running it
// twice has no further effect.
func (s *LessonService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	cutoff := now.Add(-s.cfg.ExpiryGrace)
	swept := 0

	for {
		candidates, err := s.lessons.ListEndedBefore(ctx, cutoff, s.cfg.SweepBatch)
		if err != nil {
			return swept, fmt.Errorf("list expirable lessons: %w", err)
		}

		progressed := 0
		for _, candidate := range candidates {
			ok, err := s.expire(ctx, candidate.ID, now)
			if err != nil {
				return swept, err
			}
			if ok {
				progressed++
			}
		}
		swept += progressed

		if len(candidates) < s.cfg.SweepBatch || progressed == 0 {
			break
		}
	}

	if swept > 0 {
		s.logger.Info("Expired lessons swept", zap.Int("count", swept))
	}
	return swept, nil
}

func (s *LessonService) expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	unlock := s.locks.Lock(lessonKey(id))
	defer unlock()

	current, err := s.lessons.GetLesson(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get lesson: %w", err)
	}
	if current == nil || model.DeriveStatus(current, now, s.cfg.ExpiryGrace) != model.LessonStatusExpired {
		return false, nil
	}
	to, ok := model.NextLessonStatus(current.Status, model.ActionExpire)
	if !ok {
		return false, nil
	}

	next := current.Clone()
	next.Status = to
	next.UpdatedAt = now

	var settlements []*model.SettlementRecord
	if current.Status == model.LessonStatusPaidAwaitingTutor {
		settlements = s.refundIfPaid(next, now)
	}

	err = s.lessons.ApplyChange(ctx, model.LessonChange{
		Action:        model.ActionExpire,
		From:          current.Status,
		Lesson:        next,
		Settlements:   settlements,
		Notifications: lessonNotifications(model.ActionExpire, next, SystemActor, now),
	})
	if errors.Is(err, model.ErrConcurrentUpdate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("expire lesson: %w", err)
	}

	s.logger.Info("Lesson expired",
		zap.String("lesson_id", id.String()),
		zap.String("from", string(current.Status)),
		zap.Int("settlements", len(settlements)),
	)
	return true, nil
}

// Get returns the lesson with its derived status.
func (s *LessonService) Get(ctx context.Context, id uuid.UUID) (*model.Lesson, error) {
	lesson, err := s.lessons.GetLesson(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if lesson == nil {
		return nil, ErrNotFound
	}
	return lesson.WithDerivedStatus(s.clock(), s.cfg.ExpiryGrace), nil
}

func (s *LessonService) ListForStudent(ctx context.Context, studentID int64) ([]*model.Lesson, error) {
	lessons, err := s.lessons.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list student lessons: %w", err)
	}
	return s.derive(lessons), nil
}

func (s *LessonService) ListForTutor(ctx context.Context, tutorID int64) ([]*model.Lesson, error) {
	lessons, err := s.lessons.ListByTutor(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("list tutor lessons: %w", err)
	}
	return s.derive(lessons), nil
}

// ListForUser returns lessons where the user is either party, ordered by start.
func (s *LessonService) ListForUser(ctx context.Context, userID int64) ([]*model.Lesson, error) {
	asStudent, err := s.ListForStudent(ctx, userID)
	if err != nil {
		return nil, err
	}
	asTutor, err := s.ListForTutor(ctx, userID)
	if err != nil {
		return nil, err
	}
	all := append(asStudent, asTutor...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartAt.Before(all[j].StartAt) })
	return all, nil
}

// AvailableSlots returns the future generated slots of the tutor that no active lesson
// occupies.
func (s *LessonService) AvailableSlots(ctx context.Context, tutorID int64, from, to time.Time, durationMinutes int) ([]time.Time, error) {
	var fields []model.FieldError
	if durationMinutes < 1 || durationMinutes > MaxLessonMinutes {
		fields = append(fields, model.FieldError{Field: "duration", Error: fmt.Sprintf("must be within [1, %d]", MaxLessonMinutes)})
	}
	if to.Sub(from) > maxSlotWindow {
		fields = append(fields, model.FieldError{Field: "to", Error: "window is too long"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(errors.New("invalid slot query"), fields...)
	}

	rules, err := s.availability.Get(ctx, tutorID)
	if err != nil {
		return nil, err
	}
	slots := schedule.Generate(rules, from, to, durationMinutes)
	if len(slots) == 0 {
		return []time.Time{}, nil
	}

	now := s.clock()
	length := time.Duration(durationMinutes) * time.Minute
	busy, err := s.lessons.ListActiveByTutor(ctx, tutorID, slots[0], slots[len(slots)-1].Add(length))
	if err != nil {
		return nil, fmt.Errorf("list tutor lessons: %w", err)
	}

	free := make([]time.Time, 0, len(slots))
	for _, at := range slots {
		if !at.After(now) {
			continue
		}
		if occupied(busy, at, at.Add(length), now, s.cfg.ExpiryGrace, uuid.Nil) {
			continue
		}
		free = append(free, at)
	}
	return free, nil
}

type transition struct {
	action    model.LessonAction
	actor     int64
	authorize func(l *model.Lesson) error
	check     func(l *model.Lesson, now time.Time) error
	apply     func(next *model.Lesson, now time.Time) []*model.SettlementRecord
	// claimsSlot: the lesson moves to a new time. The tutor is locked for the whole
	// transition and the store re-checks the new time inside the write.
	claimsSlot bool
}

// transition evaluates t against the derived status of the lesson and commits the new
// status with its side effects in one compare-and-set write.
func (s *LessonService) transition(ctx context.Context, id uuid.UUID, t transition) (*model.Lesson, error) {
	unlock := s.locks.Lock(lessonKey(id))
	defer unlock()
	return s.transitionLocked(ctx, id, t)
}

// transitionLocked is transition for callers already holding the lesson lock.
func (s *LessonService) transitionLocked(ctx context.Context, id uuid.UUID, t transition) (*model.Lesson, error) {
	current, err := s.lessons.GetLesson(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if current == nil {
		return nil, ErrNotFound
	}

	// Порядок захвата: урок, потом тьютор (Book берёт тьютора без урока)
	if t.claimsSlot {
		unlockTutor := s.locks.Lock(tutorKey(current.TutorID))
		defer unlockTutor()
	}

	now := s.clock()
	derived := current.WithDerivedStatus(now, s.cfg.ExpiryGrace)

	if t.authorize != nil {
		if err := t.authorize(derived); err != nil {
			return derived, err
		}
	}
	to, ok := model.NextLessonStatus(derived.Status, t.action)
	if !ok {
		return derived, &TransitionError{From: derived.Status, Attempted: t.action}
	}
	if t.check != nil {
		if err := t.check(derived, now); err != nil {
			return derived, err
		}
	}

	next := current.Clone()
	next.Status = to
	next.UpdatedAt = now

	var settlements []*model.SettlementRecord
	if t.apply != nil {
		settlements = t.apply(next, now)
	}

	change := model.LessonChange{
		Action:        t.action,
		From:          current.Status,
		Lesson:        next,
		Settlements:   settlements,
		Notifications: lessonNotifications(t.action, next, t.actor, now),
	}
	if t.claimsSlot {
		change.SlotGuard = func(tutorLessons []*model.Lesson) error {
			if occupied(tutorLessons, next.StartAt, next.EndAt(), now, s.cfg.ExpiryGrace, next.ID) {
				return fmt.Errorf("%w: overlaps another lesson", ErrSlotUnavailable)
			}
			return nil
		}
	}
	if err := s.lessons.ApplyChange(ctx, change); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return derived, err
		}
		if errors.Is(err, model.ErrConcurrentUpdate) {
			latest, getErr := s.Get(ctx, id)
			if getErr != nil {
				return derived, fmt.Errorf("apply lesson change: %w", err)
			}
			return latest, &TransitionError{From: latest.Status, Attempted: t.action}
		}
		return derived, fmt.Errorf("apply lesson change: %w", err)
	}

	s.logger.Info("Lesson transition",
		zap.String("lesson_id", id.String()),
		zap.String("action", string(t.action)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
		zap.Int64("actor", t.actor),
		zap.Int("settlements", len(settlements)),
	)
	return next, nil
}

func (s *LessonService) started(l *model.Lesson) bool {
	return !s.clock().Before(l.StartAt)
}

func (s *LessonService) notStarted(l *model.Lesson, now time.Time) error {
	if !now.Before(l.StartAt) {
		return ErrTooLate
	}
	return nil
}

// checkFreeSlot verifies that the lesson could move to start.
func (s *LessonService) checkFreeSlot(ctx context.Context, l *model.Lesson, start, now time.Time, requireGenerated bool) error {
	if !start.After(now) {
		return fmt.Errorf("%w: start is in the past", ErrSlotUnavailable)
	}
	if requireGenerated {
		rules, err := s.availability.Get(ctx, l.TutorID)
		if err != nil {
			return err
		}
		if !schedule.IsBookable(rules, start, l.DurationMinutes) {
			return ErrSlotUnavailable
		}
	}

	end := start.Add(l.Duration())
	busy, err := s.lessons.ListActiveByTutor(ctx, l.TutorID, start, end)
	if err != nil {
		return fmt.Errorf("list tutor lessons: %w", err)
	}
	if occupied(busy, start, end, now, s.cfg.ExpiryGrace, l.ID) {
		return fmt.Errorf("%w: overlaps another lesson", ErrSlotUnavailable)
	}
	return nil
}

func (s *LessonService) refundIfPaid(l *model.Lesson, now time.Time) []*model.SettlementRecord {
	if !l.WasPaid() {
		return nil
	}
	return []*model.SettlementRecord{s.newSettlement(model.SettlementKindRefund, l.StudentID, l, l.PriceMinor, now)}
}

func (s *LessonService) newSettlement(kind model.SettlementKind, beneficiary int64, l *model.Lesson, amount int64, now time.Time) *model.SettlementRecord {
	return &model.SettlementRecord{
		ID:            uuid.New(),
		Kind:          kind,
		BeneficiaryID: beneficiary,
		LessonID:      l.ID,
		AmountMinor:   amount,
		Currency:      l.Currency,
		Provider:      s.providerName,
		Status:        model.SettlementStatusQueued,
		CreatedAt:     now,
	}
}

func (s *LessonService) derive(lessons []*model.Lesson) []*model.Lesson {
	now := s.clock()
	out := make([]*model.Lesson, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, l.WithDerivedStatus(now, s.cfg.ExpiryGrace))
	}
	return out
}

func occupied(lessons []*model.Lesson, start, end, now time.Time, grace time.Duration, except uuid.UUID) bool {
	for _, l := range lessons {
		if l.ID == except {
			continue
		}
		if model.DeriveStatus(l, now, grace).IsTerminal() {
			continue
		}
		if l.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func tutorOnly(actor int64) func(*model.Lesson) error {
	return func(l *model.Lesson) error {
		if actor != l.TutorID {
			return ErrForbidden
		}
		return nil
	}
}

func studentOnly(actor int64) func(*model.Lesson) error {
	return func(l *model.Lesson) error {
		if actor != l.StudentID {
			return ErrForbidden
		}
		return nil
	}
}

func eitherParty(actor int64) func(*model.Lesson) error {
	return func(l *model.Lesson) error {
		if actor != l.TutorID && actor != l.StudentID {
			return ErrForbidden
		}
		return nil
	}
}

func otherThanRequester(actor int64) func(*model.Lesson) error {
	return func(l *model.Lesson) error {
		if err := eitherParty(actor)(l); err != nil {
			return err
		}
		if l.RescheduleRequestedBy != nil && *l.RescheduleRequestedBy == actor {
			return ErrForbidden
		}
		return nil
	}
}

func lessonKey(id uuid.UUID) string { return "lesson:" + id.String() }
func tutorKey(id int64) string { return fmt.Sprintf("tutor:%d", id) }
func studentKey(id int64) string { return fmt.Sprintf("student:%d", id) }
