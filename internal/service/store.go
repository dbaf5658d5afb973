package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

// RulesStore persists availability rules. GetRules returns nil, nil when the tutor has none.
type RulesStore interface {
	GetRules(ctx context.Context, tutorID int64) (*model.AvailabilityRules, error)
	SaveRules(ctx context.Context, rules *model.AvailabilityRules) error
}

// PayoutAccountStore persists tutors' payout accounts. GetPayoutAccount returns nil, nil
// when the tutor has none.
type PayoutAccountStore interface {
	GetPayoutAccount(ctx context.Context, tutorID int64) (*model.PayoutAccount, error)
	SavePayoutAccount(ctx context.Context, account *model.PayoutAccount) error
}

// BookingGuard is evaluated by the store while the tutor's and student's booking state is
// locked. Returning an error aborts the booking and nothing is written.
type BookingGuard func(snapshot model.BookingSnapshot) error

// LessonStore persists lessons together with the side effects of their transitions.
// GetLesson returns nil, nil when the lesson does not exist.
type LessonStore interface {
	// CreateLesson inserts the lesson and its notifications atomically. A trial lesson
	// also consumes one trial of the student in the same write.
	CreateLesson(ctx context.Context, lesson *model.Lesson, notifications []*model.Notification, guard BookingGuard) error
	GetLesson(ctx context.Context, id uuid.UUID) (*model.Lesson, error)
	ListByStudent(ctx context.Context, studentID int64) ([]*model.Lesson, error)
	ListByTutor(ctx context.Context, tutorID int64) ([]*model.Lesson, error)
	// ListActiveByTutor returns non-terminal lessons of the tutor overlapping [from, to).
	ListActiveByTutor(ctx context.Context, tutorID int64, from, to time.Time) ([]*model.Lesson, error)
	// ListEndedBefore returns non-terminal lessons whose scheduled end is not after cutoff.
	ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Lesson, error)
	// ApplyChange writes the transition only if the stored status still equals change.From;
	// otherwise it returns model.ErrConcurrentUpdate and writes nothing.
	ApplyChange(ctx context.Context, change model.LessonChange) error
	TrialUsage(ctx context.Context, studentID int64) (model.TrialUsage, error)
}

// SettlementStore persists settlement records. Every mutating call is a compare-and-set
// and returns model.ErrConcurrentUpdate when the record moved on.
type SettlementStore interface {
	ListByStatus(ctx context.Context, status model.SettlementStatus, limit int) ([]*model.SettlementRecord, error)
	ListByLesson(ctx context.Context, lessonID uuid.UUID) ([]*model.SettlementRecord, error)
	// StartProcessing moves a queued record to processing and stamps ProcessingStartedAt.
	StartProcessing(ctx context.Context, id uuid.UUID, now time.Time) error
	// Claim leases a processing record whose previous lease is free at now.
	Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (*model.SettlementRecord, error)
	// RecordAttempt counts a transient provider failure and releases the lease.
	RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	// Finish moves a processing record to settled or failed and stores its notifications.
	Finish(ctx context.Context, outcome model.SettlementOutcome) error
}
