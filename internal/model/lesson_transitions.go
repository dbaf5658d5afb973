package model

// LessonAction is an event that may move a lesson between statuses.
type LessonAction string

const (
	ActionBook              LessonAction = "book"
	ActionBookTrial         LessonAction = "book_trial"
	ActionMarkPaid          LessonAction = "mark_paid"
	ActionTutorConfirm      LessonAction = "tutor_confirm"
	ActionTutorReject       LessonAction = "tutor_reject"
	ActionStudentCancel     LessonAction = "student_cancel"
	ActionRequestReschedule LessonAction = "request_reschedule"
	ActionApproveReschedule LessonAction = "approve_reschedule"
	ActionRejectReschedule  LessonAction = "reject_reschedule"
	ActionMarkCompleted     LessonAction = "mark_completed"
	ActionExpire            LessonAction = "expire"

	// ActionRefundCharge is not a status change: it returns a charge the lesson could
	// not take, for example because it was cancelled while the charge ran.
	ActionRefundCharge LessonAction = "refund_charge"
)

// LessonTransition is a single allowed edge of the lesson state machine.
type LessonTransition struct {
	From   LessonStatus
	To     LessonStatus
	Action LessonAction
}

var lessonTransitions = []LessonTransition{
	// Booking
	{From: LessonStatusNone, To: LessonStatusPendingPayment, Action: ActionBook},
	{From: LessonStatusNone, To: LessonStatusConfirmed, Action: ActionBookTrial},

	// Payment and tutor decision
	{From: LessonStatusPendingPayment, To: LessonStatusPaidAwaitingTutor, Action: ActionMarkPaid},
	{From: LessonStatusPaidAwaitingTutor, To: LessonStatusConfirmed, Action: ActionTutorConfirm},
	{From: LessonStatusPaidAwaitingTutor, To: LessonStatusCancelled, Action: ActionTutorReject},

	// Student cancellation
	{From: LessonStatusPendingPayment, To: LessonStatusCancelled, Action: ActionStudentCancel},
	{From: LessonStatusPaidAwaitingTutor, To: LessonStatusCancelled, Action: ActionStudentCancel},
	{From: LessonStatusConfirmed, To: LessonStatusCancelled, Action: ActionStudentCancel},

	// Reschedule negotiation
	{From: LessonStatusConfirmed, To: LessonStatusRescheduleRequested, Action: ActionRequestReschedule},
	{From: LessonStatusRescheduleRequested, To: LessonStatusConfirmed, Action: ActionApproveReschedule},
	{From: LessonStatusRescheduleRequested, To: LessonStatusConfirmed, Action: ActionRejectReschedule},

	{From: LessonStatusConfirmed, To: LessonStatusCompleted, Action: ActionMarkCompleted},

	// Expiry sweep
	{From: LessonStatusPendingPayment, To: LessonStatusExpired, Action: ActionExpire},
	{From: LessonStatusPaidAwaitingTutor, To: LessonStatusExpired, Action: ActionExpire},
	{From: LessonStatusConfirmed, To: LessonStatusExpired, Action: ActionExpire},
	{From: LessonStatusRescheduleRequested, To: LessonStatusExpired, Action: ActionExpire},
}

// NextLessonStatus returns the target status of action applied in from.
func NextLessonStatus(from LessonStatus, action LessonAction) (LessonStatus, bool) {
	for _, tr := range lessonTransitions {
		if tr.From == from && tr.Action == action {
			return tr.To, true
		}
	}
	return LessonStatusNone, false
}

// LessonTransitions returns a copy of the transition table.
func LessonTransitions() []LessonTransition {
	return append([]LessonTransition(nil), lessonTransitions...)
}
