package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

// queuedPayout confirms a paid lesson and returns its queued payout.
func queuedPayout(t *testing.T, f *fixture) *model.SettlementRecord {
	t.Helper()
	lesson := f.confirmed(t, wednesday10)
	records := f.settlements(t, lesson)
	require.Len(t, records, 1)
	require.Equal(t, model.SettlementStatusQueued, records[0].Status)
	return records[0]
}

func (f *fixture) record(t *testing.T, id uuid.UUID) *model.SettlementRecord {
	t.Helper()
	rec, ok := f.store.Settlement(id)
	require.True(t, ok)
	return rec
}

func TestProcessTick_SettlesAfterDwell(t *testing.T) {
	f := newFixture(t)
	rec := queuedPayout(t, f)
	t0 := startOfTest.Add(time.Minute)

	res, err := f.queue.ProcessTick(f.ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Started)
	assert.Zero(t, res.Settled)

	got := f.record(t, rec.ID)
	assert.Equal(t, model.SettlementStatusProcessing, got.Status)
	require.NotNil(t, got.ProcessingStartedAt)
	assert.Equal(t, t0, *got.ProcessingStartedAt)

	// Not yet: the record has to stay in processing for the minimum dwell.
	res, err = f.queue.ProcessTick(f.ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, res.Settled)
	assert.Empty(t, f.payments.Settlements())

	res, err = f.queue.ProcessTick(f.ctx, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)

	got = f.record(t, rec.ID)
	assert.Equal(t, model.SettlementStatusSettled, got.Status)
	assert.Equal(t, t0, *got.ProcessingStartedAt, "processing start is set once")
	require.NotNil(t, got.ProviderTxID)
	assert.Equal(t, "fake-payout-"+rec.ID.String(), *got.ProviderTxID)
	require.NotNil(t, got.SettledAt)
	assert.Equal(t, 1, got.Attempts)

	settled := f.notificationsOf(model.NotificationPayoutSettled)
	require.Len(t, settled, 1)
	assert.Equal(t, tutorID, settled[0].UserID)
	assert.Equal(t, rec.ID, settled[0].RelatedID)

	// Terminal records are never touched again.
	res, err = f.queue.ProcessTick(f.ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, service.TickResult{}, res)
	assert.Len(t, f.notificationsOf(model.NotificationPayoutSettled), 1)
}

func TestProcessTick_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	rec := queuedPayout(t, f)
	f.payments.FailSettlement(rec.ID, provider.ErrTransient)
	t0 := startOfTest.Add(time.Minute)

	_, err := f.queue.ProcessTick(f.ctx, t0)
	require.NoError(t, err)

	res, err := f.queue.ProcessTick(f.ctx, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	got := f.record(t, rec.ID)
	assert.Equal(t, model.SettlementStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "transient")
	assert.Nil(t, got.ClaimedUntil, "lease is released for the next tick")

	res, err = f.queue.ProcessTick(f.ctx, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)

	got = f.record(t, rec.ID)
	assert.Equal(t, model.SettlementStatusSettled, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestProcessTick_AttemptCap(t *testing.T) {
	f := newFixture(t)
	rec := queuedPayout(t, f)
	f.payments.FailSettlement(rec.ID,
		provider.ErrTransient, provider.ErrTransient, provider.ErrTransient,
		provider.ErrTransient, provider.ErrTransient, provider.ErrTransient,
	)
	at := startOfTest.Add(time.Minute)
	_, err := f.queue.ProcessTick(f.ctx, at)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		at = at.Add(2 * time.Second)
		_, err := f.queue.ProcessTick(f.ctx, at)
		require.NoError(t, err)
	}

	got := f.record(t, rec.ID)
	assert.Equal(t, model.SettlementStatusFailed, got.Status)
	assert.Equal(t, 5, got.Attempts)
	assert.Nil(t, got.SettledAt)

	failed := f.notificationsOf(model.NotificationPayoutFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, tutorID, failed[0].UserID)
	assert.Empty(t, f.notificationsOf(model.NotificationPayoutSettled))
}

func TestProcessTick_DefinitiveFailure(t *testing.T) {
	f := newFixture(t)
	lesson := f.paid(t, wednesday10)
	_, err := f.lessons.TutorReject(f.ctx, lesson.ID, tutorID, "")
	require.NoError(t, err)
	refund := f.settlements(t, lesson)[0]
	f.payments.FailSettlement(refund.ID, provider.ErrDeclined)

	t0 := startOfTest.Add(time.Minute)
	_, err = f.queue.ProcessTick(f.ctx, t0)
	require.NoError(t, err)
	res, err := f.queue.ProcessTick(f.ctx, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got := f.record(t, refund.ID)
	assert.Equal(t, model.SettlementStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)

	failed := f.notificationsOf(model.NotificationRefundFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, studentID, failed[0].UserID)
}

func TestProcessTick_ProviderTimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	rec := queuedPayout(t, f)

	queue := service.NewSettlementQueue(f.store, f.payments, service.SettlementConfig{
		ProviderTimeout: 20 * time.Millisecond,
		LeaseTTL:        time.Minute,
	}, zap.NewNop())
	f.payments.SetDelay(time.Second)

	t0 := startOfTest.Add(time.Minute)
	res, err := queue.ProcessTick(f.ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Started)
	assert.Equal(t, 1, res.Retried)

	got := f.record(t, rec.ID)
	assert.Equal(t, model.SettlementStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestProcessTick_OverlappingTicksDoNotDoubleNotify(t *testing.T) {
	f := newFixture(t)
	rec := queuedPayout(t, f)
	t0 := startOfTest.Add(time.Minute)
	_, err := f.queue.ProcessTick(f.ctx, t0)
	require.NoError(t, err)

	f.payments.SetDelay(100 * time.Millisecond)

	// The second queue shares the store like another process would.
	other := service.NewSettlementQueue(f.store, f.payments, service.SettlementConfig{
		MinDwell:        2 * time.Second,
		ProviderTimeout: time.Second,
	}, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]service.TickResult, 4)
	queues := []*service.SettlementQueue{f.queue, f.queue, other, other}
	for i, q := range queues {
		wg.Add(1)
		go func(i int, q *service.SettlementQueue) {
			defer wg.Done()
			res, err := q.ProcessTick(f.ctx, t0.Add(2*time.Second))
			assert.NoError(t, err)
			results[i] = res
		}(i, q)
	}
	wg.Wait()

	settled := 0
	for _, res := range results {
		settled += res.Settled
	}
	assert.Equal(t, 1, settled)
	assert.Len(t, f.payments.Settlements(), 1, "provider is called once")
	assert.Len(t, f.notificationsOf(model.NotificationPayoutSettled), 1)
	assert.Equal(t, model.SettlementStatusSettled, f.record(t, rec.ID).Status)
}

func TestProcessTick_StatusNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	lessonA := f.confirmed(t, wednesday10)
	lessonB := f.paid(t, wednesday10.Add(time.Hour))
	_, err := f.lessons.StudentCancel(f.ctx, lessonB.ID, studentID, "")
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, l := range []*model.Lesson{lessonA, lessonB} {
		for _, r := range f.settlements(t, l) {
			ids = append(ids, r.ID)
		}
	}
	require.Len(t, ids, 2)
	f.payments.FailSettlement(ids[0], provider.ErrTransient, provider.ErrTransient)

	rank := map[model.SettlementStatus]int{
		model.SettlementStatusQueued:     0,
		model.SettlementStatusProcessing: 1,
		model.SettlementStatusSettled:    2,
		model.SettlementStatusFailed:     2,
	}
	last := map[uuid.UUID]int{}
	at := startOfTest
	for i := 0; i < 8; i++ {
		at = at.Add(1500 * time.Millisecond)
		_, err := f.queue.ProcessTick(f.ctx, at)
		require.NoError(t, err)

		for _, id := range ids {
			r := rank[f.record(t, id).Status]
			assert.GreaterOrEqual(t, r, last[id])
			last[id] = r
		}
	}
	for _, id := range ids {
		assert.Equal(t, model.SettlementStatusSettled, f.record(t, id).Status)
	}
}
