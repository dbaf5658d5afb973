package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationLessonBooked        NotificationKind = "lesson_booked"
	NotificationLessonPaid          NotificationKind = "lesson_paid"
	NotificationLessonConfirmed     NotificationKind = "lesson_confirmed"
	NotificationLessonRejected      NotificationKind = "lesson_rejected"
	NotificationLessonCancelled     NotificationKind = "lesson_cancelled"
	NotificationRescheduleRequested NotificationKind = "reschedule_requested"
	NotificationRescheduleApproved  NotificationKind = "reschedule_approved"
	NotificationRescheduleRejected  NotificationKind = "reschedule_rejected"
	NotificationLessonCompleted     NotificationKind = "lesson_completed"
	NotificationLessonExpired       NotificationKind = "lesson_expired"
	NotificationPayoutSettled       NotificationKind = "payout_settled"
	NotificationPayoutFailed        NotificationKind = "payout_failed"
	NotificationRefundSettled       NotificationKind = "refund_settled"
	NotificationRefundFailed        NotificationKind = "refund_failed"
	NotificationChargeRefunded      NotificationKind = "charge_refunded"
)

// Notification is an outbox row. Read is owned by the UI layer; DispatchedAt by the
// delivery dispatcher.
type Notification struct {
	ID           uuid.UUID        `json:"id"`
	UserID       int64            `json:"user_id"`
	Title        string           `json:"title"`
	Body         string           `json:"body"`
	Kind         NotificationKind `json:"kind"`
	RelatedID    uuid.UUID        `json:"related_id"`
	Read         bool             `json:"read"`
	CreatedAt    time.Time        `json:"created_at"`
	DispatchedAt *time.Time       `json:"dispatched_at,omitempty"`
	Attempts     int              `json:"-"` // неудачные попытки доставки
}
