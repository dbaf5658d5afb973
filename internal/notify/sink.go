// Package notify delivers notifications written to the outbox by lesson and settlement
// transitions.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

// ErrUndeliverable marks a notification the sink will never be able to deliver.
// The dispatcher drops such notifications instead of retrying them.
var ErrUndeliverable = errors.New("notification undeliverable")

// Outbox is the store side of delivery.
type Outbox interface {
	// ListUndispatched returns pending notifications, fewest failed attempts first.
	ListUndispatched(ctx context.Context, limit int) ([]*model.Notification, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure counts a failed delivery and returns the new number of attempts.
	RecordFailure(ctx context.Context, id uuid.UUID) (int, error)
}

// Sink delivers one notification to its user.
type Sink interface {
	Deliver(ctx context.Context, n *model.Notification) error
}

// LogSink writes notifications to the log. Used when no messenger is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, n *model.Notification) error {
	s.logger.Info("Notification",
		zap.Int64("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("related_id", n.RelatedID.String()),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return nil
}
