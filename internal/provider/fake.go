package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

const FakeName = "fake"

// Fake is a deterministic in-process provider. Every call succeeds unless a failure was
// scripted for the lesson or record.
type Fake struct {
	mu          sync.Mutex
	chargeErrs  map[uuid.UUID][]error
	settleErrs  map[uuid.UUID][]error
	delay       time.Duration
	charges     []uuid.UUID
	settlements []uuid.UUID
	now         func() time.Time
}

func NewFake() *Fake {
	return &Fake{
		chargeErrs: make(map[uuid.UUID][]error),
		settleErrs: make(map[uuid.UUID][]error),
		now:        time.Now,
	}
}

func (f *Fake) Name() string { return FakeName }

// FailCharge makes the next charges of the lesson return errs in order.
func (f *Fake) FailCharge(lessonID uuid.UUID, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeErrs[lessonID] = append(f.chargeErrs[lessonID], errs...)
}

// FailSettlement makes the next payout/refund calls for the record return errs in order.
func (f *Fake) FailSettlement(recordID uuid.UUID, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settleErrs[recordID] = append(f.settleErrs[recordID], errs...)
}

// SetDelay makes every call wait d or until the context is done.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Settlements returns the record IDs that were paid out or refunded successfully.
func (f *Fake) Settlements() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.settlements...)
}

// Charges returns the lesson IDs charged successfully.
func (f *Fake) Charges() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.charges...)
}

func (f *Fake) ChargeForLesson(ctx context.Context, lesson *model.Lesson) (ChargeResult, error) {
	if err := f.wait(ctx); err != nil {
		return ChargeResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(f.chargeErrs, lesson.ID); err != nil {
		return ChargeResult{}, err
	}
	f.charges = append(f.charges, lesson.ID)
	return ChargeResult{TxID: "fake-charge-" + lesson.ID.String(), ChargedAt: f.now().UTC()}, nil
}

func (f *Fake) Payout(ctx context.Context, record *model.SettlementRecord) (Result, error) {
	return f.settle(ctx, record, "payout")
}

func (f *Fake) Refund(ctx context.Context, record *model.SettlementRecord) (Result, error) {
	return f.settle(ctx, record, "refund")
}

func (f *Fake) settle(ctx context.Context, record *model.SettlementRecord, op string) (Result, error) {
	if err := f.wait(ctx); err != nil {
		return Result{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(f.settleErrs, record.ID); err != nil {
		return Result{}, err
	}
	f.settlements = append(f.settlements, record.ID)
	return Result{TxID: fmt.Sprintf("fake-%s-%s", op, record.ID)}, nil
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pop(scripted map[uuid.UUID][]error, id uuid.UUID) error {
	errs := scripted[id]
	if len(errs) == 0 {
		return nil
	}
	scripted[id] = errs[1:]
	return errs[0]
}
