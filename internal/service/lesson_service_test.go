package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

func TestBook_PaidLesson(t *testing.T) {
	f := newFixture(t)

	lesson := f.book(t, wednesday10)

	assert.Equal(t, model.LessonStatusPendingPayment, lesson.Status)
	assert.Equal(t, int64(2000), lesson.PriceMinor)
	assert.Equal(t, "USD", lesson.Currency)
	assert.False(t, lesson.IsTrial)
	assert.Equal(t, wednesday10, lesson.StartAt)

	booked := f.notificationsOf(model.NotificationLessonBooked)
	require.Len(t, booked, 1)
	assert.Equal(t, tutorID, booked[0].UserID)
	assert.Equal(t, lesson.ID, booked[0].RelatedID)
}

func TestBook_RejectsUnavailableSlots(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		start time.Time
	}{
		{name: "not aligned", start: wednesday10.Add(30 * time.Minute)},
		{name: "outside availability", start: wednesday10.Add(-3 * time.Hour)},
		{name: "runs past range end", start: time.Date(2024, 1, 10, 17, 30, 0, 0, time.UTC)},
		{name: "in the past", start: startOfTest.Add(-22 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.lessons.Book(f.ctx, service.BookRequest{
				TutorID: tutorID, StudentID: studentID, StartAt: tt.start, DurationMinutes: 60,
			})
			assert.ErrorIs(t, err, service.ErrSlotUnavailable)
		})
	}

	t.Run("tutor without rules", func(t *testing.T) {
		_, err := f.lessons.Book(f.ctx, service.BookRequest{
			TutorID: 777, StudentID: studentID, StartAt: wednesday10, DurationMinutes: 60,
		})
		assert.ErrorIs(t, err, service.ErrSlotUnavailable)
	})
}

func TestBook_RejectsOverlapWithActiveLesson(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, wednesday10)

	_, err := f.lessons.Book(f.ctx, service.BookRequest{
		TutorID: tutorID, StudentID: 21, StartAt: wednesday10, DurationMinutes: 60,
	})
	assert.ErrorIs(t, err, service.ErrSlotUnavailable)

	// A cancelled lesson frees the slot again.
	_, err = f.lessons.StudentCancel(f.ctx, first.ID, studentID, "")
	require.NoError(t, err)

	_, err = f.lessons.Book(f.ctx, service.BookRequest{
		TutorID: tutorID, StudentID: 21, StartAt: wednesday10, DurationMinutes: 60,
	})
	assert.NoError(t, err)
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.lessons.Book(f.ctx, service.BookRequest{TutorID: tutorID, StudentID: tutorID, DurationMinutes: 0})

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"student_id", "duration_minutes", "start_at"}, fields)
	assert.True(t, service.IsValidationError(err))
}

func TestLesson_PaidHappyPath(t *testing.T) {
	f := newFixture(t)
	lesson := f.book(t, wednesday10)

	lesson, err := f.lessons.PayLesson(f.ctx, lesson.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusPaidAwaitingTutor, lesson.Status)
	require.NotNil(t, lesson.PaidAt)
	assert.Equal(t, []uuid.UUID{lesson.ID}, f.payments.Charges())
	require.Len(t, f.notificationsOf(model.NotificationLessonPaid), 1)

	lesson, err = f.lessons.TutorConfirm(f.ctx, lesson.ID, tutorID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusConfirmed, lesson.Status)

	records := f.settlements(t, lesson)
	require.Len(t, records, 1)
	assert.Equal(t, model.SettlementKindPayout, records[0].Kind)
	assert.Equal(t, tutorID, records[0].BeneficiaryID)
	assert.Equal(t, int64(1700), records[0].AmountMinor)
	assert.Equal(t, model.SettlementStatusQueued, records[0].Status)
	assert.Equal(t, provider.FakeName, records[0].Provider)

	confirmed := f.notificationsOf(model.NotificationLessonConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, studentID, confirmed[0].UserID)

	f.clock.Set(wednesday10.Add(30 * time.Minute))
	lesson, err = f.lessons.MarkCompleted(f.ctx, lesson.ID, tutorID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusCompleted, lesson.Status)
	assert.Len(t, f.notificationsOf(model.NotificationLessonCompleted), 2)
}

func TestPayLesson_ProviderFailures(t *testing.T) {
	f := newFixture(t)
	lesson := f.book(t, wednesday10)

	f.payments.FailCharge(lesson.ID, provider.ErrDeclined, provider.ErrTransient)

	got, err := f.lessons.PayLesson(f.ctx, lesson.ID, studentID)
	assert.ErrorIs(t, err, service.ErrPaymentDeclined)
	assert.Equal(t, model.LessonStatusPendingPayment, got.Status)

	_, err = f.lessons.PayLesson(f.ctx, lesson.ID, studentID)
	assert.ErrorIs(t, err, provider.ErrTransient)
	assert.Equal(t, model.LessonStatusPendingPayment, f.stored(t, lesson).Status)

	_, err = f.lessons.PayLesson(f.ctx, lesson.ID, tutorID)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestTutorReject_RefundsInFull(t *testing.T) {
	f := newFixture(t)
	lesson := f.paid(t, wednesday10)

	lesson, err := f.lessons.TutorReject(f.ctx, lesson.ID, tutorID, "заболел")
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusCancelled, lesson.Status)
	assert.Equal(t, "заболел", lesson.CancelReason)

	records := f.settlements(t, lesson)
	require.Len(t, records, 1)
	assert.Equal(t, model.SettlementKindRefund, records[0].Kind)
	assert.Equal(t, studentID, records[0].BeneficiaryID)
	assert.Equal(t, int64(2000), records[0].AmountMinor)

	rejected := f.notificationsOf(model.NotificationLessonRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, studentID, rejected[0].UserID)
}

func TestStudentCancel_RefundOnlyWhenPaid(t *testing.T) {
	f := newFixture(t)

	unpaid := f.book(t, wednesday10)
	_, err := f.lessons.StudentCancel(f.ctx, unpaid.ID, studentID, "")
	require.NoError(t, err)
	assert.Empty(t, f.settlements(t, unpaid))

	confirmed := f.confirmed(t, wednesday10.Add(2*time.Hour))
	got, err := f.lessons.StudentCancel(f.ctx, confirmed.ID, studentID, "передумал")
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusCancelled, got.Status)

	kinds := map[model.SettlementKind]int64{}
	for _, r := range f.settlements(t, confirmed) {
		kinds[r.Kind] = r.AmountMinor
	}
	assert.Equal(t, map[model.SettlementKind]int64{
		model.SettlementKindPayout: 1700,
		model.SettlementKindRefund: 2000,
	}, kinds)

	cancelled := f.notificationsOf(model.NotificationLessonCancelled)
	require.Len(t, cancelled, 2)
	assert.Equal(t, tutorID, cancelled[1].UserID)
}

func TestLesson_ActorChecks(t *testing.T) {
	f := newFixture(t)
	lesson := f.paid(t, wednesday10)

	_, err := f.lessons.TutorConfirm(f.ctx, lesson.ID, studentID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.lessons.TutorReject(f.ctx, lesson.ID, strangerID, "")
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.lessons.StudentCancel(f.ctx, lesson.ID, tutorID, "")
	assert.ErrorIs(t, err, service.ErrForbidden)

	assert.Equal(t, model.LessonStatusPaidAwaitingTutor, f.stored(t, lesson).Status)
}

func TestLesson_IllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	lesson := f.book(t, wednesday10)

	got, err := f.lessons.TutorConfirm(f.ctx, lesson.ID, tutorID)
	require.ErrorIs(t, err, service.ErrInvalidTransition)

	var terr *service.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.LessonStatusPendingPayment, terr.From)
	assert.Equal(t, model.ActionTutorConfirm, terr.Attempted)
	assert.Equal(t, model.LessonStatusPendingPayment, got.Status, "current lesson is returned with the error")

	_, err = f.lessons.RequestReschedule(f.ctx, lesson.ID, studentID, wednesday10.Add(2*time.Hour))
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = f.lessons.ApproveReschedule(f.ctx, lesson.ID, tutorID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = f.lessons.MarkPaid(f.ctx, lesson.ID)
	require.NoError(t, err)
	_, err = f.lessons.MarkPaid(f.ctx, lesson.ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	stored := f.stored(t, lesson)
	assert.Equal(t, model.LessonStatusPaidAwaitingTutor, stored.Status)
	assert.Empty(t, f.settlements(t, lesson))
}

func TestLesson_TerminalStatesAcceptNothing(t *testing.T) {
	f := newFixture(t)
	lesson := f.book(t, wednesday10)
	_, err := f.lessons.StudentCancel(f.ctx, lesson.ID, studentID, "")
	require.NoError(t, err)

	calls := map[string]func() error{
		"mark paid": func() error { _, err := f.lessons.MarkPaid(f.ctx, lesson.ID); return err },
		"confirm":   func() error { _, err := f.lessons.TutorConfirm(f.ctx, lesson.ID, tutorID); return err },
		"reject":    func() error { _, err := f.lessons.TutorReject(f.ctx, lesson.ID, tutorID, ""); return err },
		"cancel":    func() error { _, err := f.lessons.StudentCancel(f.ctx, lesson.ID, studentID, ""); return err },
		"complete":  func() error { _, err := f.lessons.MarkCompleted(f.ctx, lesson.ID, tutorID); return err },
	}
	for name, call := range calls {
		assert.ErrorIs(t, call(), service.ErrInvalidTransition, name)
	}
	assert.Equal(t, model.LessonStatusCancelled, f.stored(t, lesson).Status)
}

func TestLesson_TimingGuards(t *testing.T) {
	f := newFixture(t)

	t.Run("confirm after the lesson started is too late", func(t *testing.T) {
		lesson := f.paid(t, wednesday10)
		f.clock.Set(wednesday10.Add(10 * time.Minute))
		defer f.clock.Set(startOfTest)

		got, err := f.lessons.TutorConfirm(f.ctx, lesson.ID, tutorID)
		assert.ErrorIs(t, err, service.ErrTooLate)
		assert.Equal(t, model.LessonStatusPaidAwaitingTutor, got.Status)

		// Rejecting is still possible and refunds the student.
		_, err = f.lessons.TutorReject(f.ctx, lesson.ID, tutorID, "опоздал")
		require.NoError(t, err)
		assert.Len(t, f.settlements(t, lesson), 1)
	})

	t.Run("complete before start is too early", func(t *testing.T) {
		lesson := f.confirmed(t, wednesday10.Add(3*time.Hour))
		_, err := f.lessons.MarkCompleted(f.ctx, lesson.ID, tutorID)
		assert.ErrorIs(t, err, service.ErrTooEarly)
		assert.Equal(t, model.LessonStatusConfirmed, f.stored(t, lesson).Status)
	})
}

func TestReschedule_Approve(t *testing.T) {
	f := newFixture(t)
	lesson := f.confirmed(t, wednesday10)
	proposed := wednesday10.Add(24 * time.Hour)

	lesson, err := f.lessons.RequestReschedule(f.ctx, lesson.ID, studentID, proposed)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusRescheduleRequested, lesson.Status)
	require.NotNil(t, lesson.ProposedStartAt)
	assert.Equal(t, proposed, *lesson.ProposedStartAt)

	requested := f.notificationsOf(model.NotificationRescheduleRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, tutorID, requested[0].UserID)

	_, err = f.lessons.ApproveReschedule(f.ctx, lesson.ID, studentID)
	assert.ErrorIs(t, err, service.ErrForbidden, "requester cannot approve own proposal")

	lesson, err = f.lessons.ApproveReschedule(f.ctx, lesson.ID, tutorID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusConfirmed, lesson.Status)
	assert.Equal(t, proposed, lesson.StartAt)
	assert.Nil(t, lesson.ProposedStartAt)
	assert.Nil(t, lesson.RescheduleRequestedBy)

	approved := f.notificationsOf(model.NotificationRescheduleApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, studentID, approved[0].UserID)

	// The old slot is free again.
	_, err = f.lessons.Book(f.ctx, service.BookRequest{TutorID: tutorID, StudentID: 21, StartAt: wednesday10, DurationMinutes: 60})
	assert.NoError(t, err)
}

func TestReschedule_Reject(t *testing.T) {
	f := newFixture(t)
	lesson := f.confirmed(t, wednesday10)

	_, err := f.lessons.RequestReschedule(f.ctx, lesson.ID, tutorID, wednesday10.Add(time.Hour))
	require.NoError(t, err)

	lesson, err = f.lessons.RejectReschedule(f.ctx, lesson.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusConfirmed, lesson.Status)
	assert.Equal(t, wednesday10, lesson.StartAt)
	assert.Nil(t, lesson.ProposedStartAt)

	rejected := f.notificationsOf(model.NotificationRescheduleRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, tutorID, rejected[0].UserID)
}

func TestReschedule_ProposalMustBeFree(t *testing.T) {
	f := newFixture(t)
	lesson := f.confirmed(t, wednesday10)
	other := f.book(t, wednesday10.Add(2*time.Hour))

	_, err := f.lessons.RequestReschedule(f.ctx, lesson.ID, studentID, other.StartAt)
	assert.ErrorIs(t, err, service.ErrSlotUnavailable)

	_, err = f.lessons.RequestReschedule(f.ctx, lesson.ID, studentID, wednesday10.Add(15*time.Minute))
	assert.ErrorIs(t, err, service.ErrSlotUnavailable)

	_, err = f.lessons.RequestReschedule(f.ctx, lesson.ID, strangerID, wednesday10.Add(time.Hour))
	assert.ErrorIs(t, err, service.ErrForbidden)

	assert.Equal(t, model.LessonStatusConfirmed, f.stored(t, lesson).Status)
}

func TestDerivedExpiry(t *testing.T) {
	f := newFixture(t)
	lesson := f.confirmed(t, wednesday10)

	// Within the grace period the lesson still reads as confirmed.
	f.clock.Set(lesson.EndAt().Add(59 * time.Minute))
	got, err := f.lessons.Get(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusConfirmed, got.Status)

	f.clock.Set(lesson.EndAt().Add(time.Hour))
	got, err = f.lessons.Get(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusExpired, got.Status)
	assert.Equal(t, model.LessonStatusConfirmed, f.stored(t, lesson).Status, "reads do not write")

	_, err = f.lessons.MarkCompleted(f.ctx, lesson.ID, tutorID)
	var terr *service.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.LessonStatusExpired, terr.From)

	listed, err := f.lessons.ListForStudent(f.ctx, studentID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, model.LessonStatusExpired, listed[0].Status)
}

func TestSweepExpired_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	pending := f.book(t, wednesday10)
	awaiting := f.paid(t, wednesday10.Add(time.Hour))
	confirmed := f.confirmed(t, wednesday10.Add(2*time.Hour))
	future := f.book(t, wednesday10.Add(48*time.Hour))

	sweepAt := wednesday10.Add(5 * time.Hour)
	f.clock.Set(sweepAt)

	n, err := f.lessons.SweepExpired(f.ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, l := range []*model.Lesson{pending, awaiting, confirmed} {
		assert.Equal(t, model.LessonStatusExpired, f.stored(t, l).Status)
	}
	assert.Equal(t, model.LessonStatusPendingPayment, f.stored(t, future).Status)

	// Only the paid lesson the tutor never confirmed is refunded.
	refunds := f.settlements(t, awaiting)
	require.Len(t, refunds, 1)
	assert.Equal(t, model.SettlementKindRefund, refunds[0].Kind)
	assert.Empty(t, f.settlements(t, pending))
	assert.Len(t, f.settlements(t, confirmed), 1, "only the payout queued on confirm")

	notificationsBefore := len(f.store.Notifications())
	assert.Len(t, f.notificationsOf(model.NotificationLessonExpired), 6)

	n, err = f.lessons.SweepExpired(f.ctx, sweepAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.store.Notifications(), notificationsBefore)
	assert.Len(t, f.settlements(t, awaiting), 1)
}

func TestSweepExpired_AgreesWithDerivedStatus(t *testing.T) {
	f := newFixture(t)
	var lessons []*model.Lesson
	for i := 0; i < 6; i++ {
		lessons = append(lessons, f.book(t, wednesday10.Add(time.Duration(i)*time.Hour)))
	}

	sweepAt := wednesday10.Add(4*time.Hour + 30*time.Minute)
	f.clock.Set(sweepAt)

	for _, l := range lessons {
		derived, err := f.lessons.Get(f.ctx, l.ID)
		require.NoError(t, err)
		before := derived.Status

		_, err = f.lessons.SweepExpired(f.ctx, sweepAt)
		require.NoError(t, err)

		after, err := f.lessons.Get(f.ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after.Status)
		assert.Equal(t, before, f.stored(t, l).Status, "stored and derived status agree after the sweep")
	}
}

func TestConcurrentConfirmAndReject_ExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		lesson := f.paid(t, wednesday10)

		// Two services over one store behave like two processes.
		first, second := f.lessons, f.newLessonService()

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = first.TutorConfirm(f.ctx, lesson.ID, tutorID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = second.TutorReject(f.ctx, lesson.ID, tutorID, "")
		}()
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, service.ErrInvalidTransition), "loser gets an invalid transition, got %v", err)
		}
		require.Equal(t, 1, wins)

		stored := f.stored(t, lesson)
		assert.Contains(t, []model.LessonStatus{model.LessonStatusConfirmed, model.LessonStatusCancelled}, stored.Status)
		assert.Len(t, f.settlements(t, lesson), 1, "exactly one payout or refund")
	}
}

func TestAvailableSlots_ExcludeBookedLessons(t *testing.T) {
	f := newFixture(t)
	f.book(t, wednesday10)

	from := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	slots, err := f.lessons.AvailableSlots(f.ctx, tutorID, from, from.Add(24*time.Hour), 60)
	require.NoError(t, err)

	assert.Len(t, slots, 8)
	assert.NotContains(t, slots, wednesday10)
	assert.Contains(t, slots, wednesday10.Add(time.Hour))

	// A 90 minute lesson starting at 09:00 would run into the 10:00 booking.
	slots, err = f.lessons.AvailableSlots(f.ctx, tutorID, from, from.Add(24*time.Hour), 90)
	require.NoError(t, err)
	assert.NotContains(t, slots, wednesday10.Add(-time.Hour))

	_, err = f.lessons.AvailableSlots(f.ctx, tutorID, from, from.Add(24*time.Hour), 0)
	assert.True(t, service.IsValidationError(err))
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	got, err := f.lessons.Get(f.ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Nil(t, got)

	_, err = f.lessons.TutorConfirm(f.ctx, uuid.New(), tutorID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}
