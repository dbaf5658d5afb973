package model

import (
	"errors"
	"strings"
)

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when input is malformed. Nothing is persisted when it occurs.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation error"
	}
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Err.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ErrConcurrentUpdate is returned by stores when a compare-and-set write finds the
// entity no longer in the expected state.
var ErrConcurrentUpdate = errors.New("entity was modified concurrently")

// BookingSnapshot is what a store hands to the booking guard while it holds the
// tutor and student locks.
type BookingSnapshot struct {
	Usage        TrialUsage
	TutorLessons []*Lesson // active lessons of the tutor overlapping the requested time
}
