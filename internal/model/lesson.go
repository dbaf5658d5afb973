package model

import (
	"time"

	"github.com/google/uuid"
)

type LessonStatus string

const (
	LessonStatusNone                LessonStatus = ""
	LessonStatusPendingPayment      LessonStatus = "pending_payment"      // Ожидает оплаты
	LessonStatusPaidAwaitingTutor   LessonStatus = "paid_awaiting_tutor"  // Оплачено, ждёт учителя
	LessonStatusConfirmed           LessonStatus = "confirmed"            // Подтверждено
	LessonStatusRescheduleRequested LessonStatus = "reschedule_requested" // Запрошен перенос
	LessonStatusCompleted           LessonStatus = "completed"            // Завершено
	LessonStatusCancelled           LessonStatus = "cancelled"            // Отменено
	LessonStatusExpired             LessonStatus = "expired"              // Истекло
)

// IsTerminal reports whether no further transition can leave the status.
func (s LessonStatus) IsTerminal() bool {
	switch s {
	case LessonStatusCompleted, LessonStatusCancelled, LessonStatusExpired:
		return true
	}
	return false
}

// NonTerminalLessonStatuses lists statuses the expiry sweep has to look at.
var NonTerminalLessonStatuses = []LessonStatus{
	LessonStatusPendingPayment,
	LessonStatusPaidAwaitingTutor,
	LessonStatusConfirmed,
	LessonStatusRescheduleRequested,
}

type Lesson struct {
	ID                    uuid.UUID    `json:"id"`
	TutorID               int64        `json:"tutor_id"`
	StudentID             int64        `json:"student_id"`
	StartAt               time.Time    `json:"start_at"`
	DurationMinutes       int          `json:"duration_minutes"`
	IsTrial               bool         `json:"is_trial"`
	PriceMinor            int64        `json:"price_minor"` // в копейках/центах
	Currency              string       `json:"currency"`
	Status                LessonStatus `json:"status"`
	Notes                 string       `json:"notes"`
	CancelReason          string       `json:"cancel_reason,omitempty"`
	ProposedStartAt       *time.Time   `json:"proposed_start_at,omitempty"`
	RescheduleRequestedBy *int64       `json:"reschedule_requested_by,omitempty"`
	PaidAt                *time.Time   `json:"paid_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Duration returns the lesson length.
func (l *Lesson) Duration() time.Duration {
	return time.Duration(l.DurationMinutes) * time.Minute
}

// EndAt returns the scheduled end instant.
func (l *Lesson) EndAt() time.Time {
	return l.StartAt.Add(l.Duration())
}

// Overlaps reports whether the lesson occupies any part of [start, end).
func (l *Lesson) Overlaps(start, end time.Time) bool {
	return l.StartAt.Before(end) && start.Before(l.EndAt())
}

// WasPaid reports whether money was taken for this lesson.
func (l *Lesson) WasPaid() bool {
	return !l.IsTrial && l.PaidAt != nil && l.PriceMinor > 0
}

// Clone returns a copy that shares no pointers with the original.
func (l *Lesson) Clone() *Lesson {
	out := *l
	if l.ProposedStartAt != nil {
		t := *l.ProposedStartAt
		out.ProposedStartAt = &t
	}
	if l.RescheduleRequestedBy != nil {
		id := *l.RescheduleRequestedBy
		out.RescheduleRequestedBy = &id
	}
	if l.PaidAt != nil {
		t := *l.PaidAt
		out.PaidAt = &t
	}
	return &out
}

// DeriveStatus computes the status a reader must see at now: a non-terminal lesson
// whose end plus grace has passed reads as expired. The expiry sweep persists exactly
// this value, so stored and derived status never disagree once swept.
func DeriveStatus(l *Lesson, now time.Time, grace time.Duration) LessonStatus {
	if l.Status.IsTerminal() {
		return l.Status
	}
	if !now.Before(l.EndAt().Add(grace)) {
		return LessonStatusExpired
	}
	return l.Status
}

// WithDerivedStatus returns a copy carrying the derived status.
func (l *Lesson) WithDerivedStatus(now time.Time, grace time.Duration) *Lesson {
	out := l.Clone()
	out.Status = DeriveStatus(l, now, grace)
	return out
}

// LessonChange is one atomic write: the lesson moves from From to Lesson.Status and
// every settlement record and notification produced by the transition is stored with it.
//
// When SlotGuard is set the store holds the tutor's booking lock for the write and calls
// it with the tutor's active lessons overlapping the lesson's new time; an error aborts
// the write.
type LessonChange struct {
	Action        LessonAction
	From          LessonStatus
	Lesson        *Lesson
	Settlements   []*SettlementRecord
	Notifications []*Notification
	SlotGuard     func(tutorLessons []*Lesson) error
}
