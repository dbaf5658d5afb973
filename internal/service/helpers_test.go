package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
	"github.com/Freeeeeet/tutorbook/internal/repository/memory"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

const (
	tutorID    int64 = 10
	studentID  int64 = 20
	strangerID int64 = 99
)

// 2024-01-08 is a Monday; lessons are booked later that week.
var (
	startOfTest = time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
	wednesday10 = time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	ctx          context.Context
	clock        *testClock
	store        *memory.Store
	payments     *provider.Fake
	pricing      *service.FlatRatePricing
	availability *service.AvailabilityService
	quota        *service.QuotaTracker
	lessons      *service.LessonService
	queue        *service.SettlementQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      context.Background(),
		clock:    &testClock{now: startOfTest},
		store:    memory.NewStore(),
		payments: provider.NewFake(),
	}

	pricing, err := service.NewFlatRatePricing(2000, "USD", "0.15")
	require.NoError(t, err)
	f.pricing = pricing

	logger := zap.NewNop()
	f.availability = service.NewAvailabilityService(f.store, logger).WithClock(f.clock.Now)
	f.quota = service.NewQuotaTracker(f.store, 3, 1)
	f.lessons = f.newLessonService()
	f.queue = service.NewSettlementQueue(f.store, f.payments, service.SettlementConfig{
		MinDwell:        2 * time.Second,
		ProviderTimeout: time.Second,
		MaxAttempts:     5,
	}, logger)

	f.openTutor(t, tutorID)
	return f
}

// newLessonService builds another service over the same store, like a second process.
func (f *fixture) newLessonService() *service.LessonService {
	return service.NewLessonService(
		f.store,
		f.availability,
		f.quota,
		f.pricing,
		f.payments,
		service.LessonConfig{ExpiryGrace: time.Hour, ProviderTimeout: time.Second},
		zap.NewNop(),
	).WithClock(f.clock.Now)
}

// openTutor makes the tutor available every day 09:00-18:00 UTC in hourly slots.
func (f *fixture) openTutor(t *testing.T, id int64) {
	t.Helper()

	weekly := make(map[int][]model.TimeRange)
	for d := 0; d < 7; d++ {
		weekly[d] = []model.TimeRange{{Start: "09:00", End: "18:00"}}
	}
	require.NoError(t, f.availability.Put(f.ctx, &model.AvailabilityRules{
		TutorID:             id,
		Timezone:            "UTC",
		SlotIntervalMinutes: 60,
		SlotStartPolicy:     model.SlotStartAligned,
		Weekly:              weekly,
	}))
}

func (f *fixture) book(t *testing.T, start time.Time) *model.Lesson {
	t.Helper()
	lesson, err := f.lessons.Book(f.ctx, service.BookRequest{
		TutorID:         tutorID,
		StudentID:       studentID,
		StartAt:         start,
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	return lesson
}

func (f *fixture) paid(t *testing.T, start time.Time) *model.Lesson {
	t.Helper()
	lesson := f.book(t, start)
	lesson, err := f.lessons.PayLesson(f.ctx, lesson.ID, studentID)
	require.NoError(t, err)
	return lesson
}

func (f *fixture) confirmed(t *testing.T, start time.Time) *model.Lesson {
	t.Helper()
	lesson := f.paid(t, start)
	lesson, err := f.lessons.TutorConfirm(f.ctx, lesson.ID, tutorID)
	require.NoError(t, err)
	return lesson
}

func (f *fixture) settlements(t *testing.T, lesson *model.Lesson) []*model.SettlementRecord {
	t.Helper()
	records, err := f.queue.ListForLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	return records
}

func (f *fixture) notificationsOf(kind model.NotificationKind) []*model.Notification {
	var out []*model.Notification
	for _, n := range f.store.Notifications() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (f *fixture) stored(t *testing.T, lesson *model.Lesson) *model.Lesson {
	t.Helper()
	got, err := f.store.GetLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}
