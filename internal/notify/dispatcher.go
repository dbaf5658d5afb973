package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

const (
	defaultDispatchBatch = 100
	DefaultMaxAttempts   = 10
)

// DispatchResult counts what one DispatchOnce did.
type DispatchResult struct {
	Delivered int
	Dropped   int // undeliverable or out of attempts
	Failed    int
	Busy      bool
}

// Dispatcher drains the outbox into a sink. Delivery is at least once: a notification
// is marked dispatched only after the sink accepted it, or once it has failed
// maxAttempts times.
type Dispatcher struct {
	outbox      Outbox
	sink        Sink
	batch       int
	maxAttempts int
	logger      *zap.Logger
	running     sync.Mutex
}

func NewDispatcher(outbox Outbox, sink Sink, batch int, logger *zap.Logger) *Dispatcher {
	if batch <= 0 {
		batch = defaultDispatchBatch
	}
	return &Dispatcher{
		outbox:      outbox,
		sink:        sink,
		batch:       batch,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
	}
}

// WithMaxAttempts sets how many failed deliveries a notification gets before it is dropped.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// DispatchOnce delivers one batch of pending notifications.
func (d *Dispatcher) DispatchOnce(ctx context.Context, now time.Time) (DispatchResult, error) {
	if !d.running.TryLock() {
		return DispatchResult{Busy: true}, nil
	}
	defer d.running.Unlock()

	var res DispatchResult
	pending, err := d.outbox.ListUndispatched(ctx, d.batch)
	if err != nil {
		return res, fmt.Errorf("list undispatched notifications: %w", err)
	}

	for _, n := range pending {
		err := d.sink.Deliver(ctx, n)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrUndeliverable):
			d.logger.Warn("Dropping undeliverable notification",
				zap.String("notification_id", n.ID.String()),
				zap.Int64("user_id", n.UserID),
				zap.Error(err),
			)
			res.Dropped++
		default:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			attempts, recErr := d.outbox.RecordFailure(ctx, n.ID)
			if recErr != nil && !errors.Is(recErr, model.ErrConcurrentUpdate) {
				return res, fmt.Errorf("record notification failure: %w", recErr)
			}
			if attempts < d.maxAttempts {
				d.logger.Warn("Failed to deliver notification",
					zap.String("notification_id", n.ID.String()),
					zap.Int64("user_id", n.UserID),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				res.Failed++
				continue
			}
			d.logger.Error("Giving up on notification",
				zap.String("notification_id", n.ID.String()),
				zap.Int64("user_id", n.UserID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			res.Dropped++
		}

		err = d.outbox.MarkDispatched(ctx, n.ID, now.UTC())
		if err != nil && !errors.Is(err, model.ErrConcurrentUpdate) {
			return res, fmt.Errorf("mark notification dispatched: %w", err)
		}
	}

	if res.Delivered+res.Dropped+res.Failed > 0 {
		d.logger.Debug("Notifications dispatched",
			zap.Int("delivered", res.Delivered),
			zap.Int("dropped", res.Dropped),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}
