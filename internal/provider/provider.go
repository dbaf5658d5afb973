// Package provider holds the payment provider boundary: charging students for lessons
// and moving settlement money to tutors or back to students.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

var (
	// ErrTransient marks a failure worth retrying (timeouts, 5xx, rate limits).
	ErrTransient = errors.New("transient provider error")
	// ErrDeclined marks a definitive refusal.
	ErrDeclined = errors.New("declined by provider")
)

type ChargeResult struct {
	TxID      string
	ChargedAt time.Time
}

type Result struct {
	TxID string
}

// Charger confirms that the student paid for the lesson.
type Charger interface {
	ChargeForLesson(ctx context.Context, lesson *model.Lesson) (ChargeResult, error)
}

// Settler moves money for a settlement record.
type Settler interface {
	Payout(ctx context.Context, record *model.SettlementRecord) (Result, error)
	Refund(ctx context.Context, record *model.SettlementRecord) (Result, error)
}

// Provider is a full payment backend.
type Provider interface {
	Charger
	Settler
	Name() string
}

// IsTransient reports whether err should leave a settlement in processing for another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Settle dispatches the record to Payout or Refund by kind.
func Settle(ctx context.Context, s Settler, record *model.SettlementRecord) (Result, error) {
	switch record.Kind {
	case model.SettlementKindPayout:
		return s.Payout(ctx, record)
	case model.SettlementKindRefund:
		return s.Refund(ctx, record)
	}
	return Result{}, errors.New("unknown settlement kind: " + string(record.Kind))
}
