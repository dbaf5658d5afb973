package service

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

var (
	// ErrSlotUnavailable: the requested instant is not currently generated for the tutor.
	// Recoverable by querying slots again.
	ErrSlotUnavailable = errors.New("slot is not available")
	// ErrTrialQuotaExceeded: the student used up the global or per-tutor trial allowance.
	ErrTrialQuotaExceeded = errors.New("trial lesson quota exceeded")
	// ErrInvalidTransition: the action is not legal from the lesson's current status.
	ErrInvalidTransition = errors.New("invalid lesson transition")
	// ErrTooEarly: the lesson has not started yet.
	ErrTooEarly = errors.New("lesson has not started yet")
	// ErrTooLate: the lesson already started, so it can no longer be prepared.
	ErrTooLate = errors.New("lesson has already started")
	// ErrForbidden: the caller is not a party allowed to perform the action.
	ErrForbidden = errors.New("no permission for this lesson")
	// ErrNotFound: the lesson does not exist.
	ErrNotFound = errors.New("lesson not found")
	// ErrPaymentDeclined: the payment provider refused the charge.
	ErrPaymentDeclined = errors.New("payment declined")
)

// TransitionError reports an illegal edge together with the status it was attempted from.
type TransitionError struct {
	From      model.LessonStatus
	Attempted model.LessonAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid lesson transition: %s from %s", e.Attempted, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsValidationError reports whether err carries malformed-input details.
func IsValidationError(err error) bool {
	var verr *model.ValidationError
	return errors.As(err, &verr)
}
