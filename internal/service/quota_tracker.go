package service

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

const (
	DefaultTrialTotalLimit    = 3
	DefaultTrialPerTutorLimit = 1
)

// QuotaTracker enforces how many trial lessons a student may take. Consumption is
// recorded by the lesson store together with the trial lesson itself.
type QuotaTracker struct {
	lessons       LessonStore
	totalLimit    int
	perTutorLimit int
}

func NewQuotaTracker(lessons LessonStore, totalLimit, perTutorLimit int) *QuotaTracker {
	if totalLimit <= 0 {
		totalLimit = DefaultTrialTotalLimit
	}
	if perTutorLimit <= 0 {
		perTutorLimit = DefaultTrialPerTutorLimit
	}
	return &QuotaTracker{
		lessons:       lessons,
		totalLimit:    totalLimit,
		perTutorLimit: perTutorLimit,
	}
}

func (q *QuotaTracker) Limits() (total, perTutor int) {
	return q.totalLimit, q.perTutorLimit
}

// Check is the guard run while the student's usage is locked.
func (q *QuotaTracker) Check(usage model.TrialUsage, tutorID int64) error {
	if usage.Total >= q.totalLimit {
		return fmt.Errorf("%w: %d of %d trials used", ErrTrialQuotaExceeded, usage.Total, q.totalLimit)
	}
	if usage.ForTutor(tutorID) >= q.perTutorLimit {
		return fmt.Errorf("%w: trial with tutor %d already used", ErrTrialQuotaExceeded, tutorID)
	}
	return nil
}

// CanBookTrial is an advisory read; the authoritative check happens inside Book.
func (q *QuotaTracker) CanBookTrial(ctx context.Context, studentID, tutorID int64) (bool, error) {
	usage, err := q.Usage(ctx, studentID)
	if err != nil {
		return false, err
	}
	return q.Check(usage, tutorID) == nil, nil
}

func (q *QuotaTracker) Usage(ctx context.Context, studentID int64) (model.TrialUsage, error) {
	usage, err := q.lessons.TrialUsage(ctx, studentID)
	if err != nil {
		return model.TrialUsage{}, fmt.Errorf("get trial usage: %w", err)
	}
	if usage.ByTutor == nil {
		usage.ByTutor = map[int64]int{}
	}
	usage.StudentID = studentID
	return usage, nil
}
