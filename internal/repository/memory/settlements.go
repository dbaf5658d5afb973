package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

func (s *Store) ListByStatus(_ context.Context, status model.SettlementStatus, limit int) ([]*model.SettlementRecord, error) {
	return s.filterSettlements(limit, func(r *model.SettlementRecord) bool { return r.Status == status }), nil
}

func (s *Store) ListByLesson(_ context.Context, lessonID uuid.UUID) ([]*model.SettlementRecord, error) {
	return s.filterSettlements(0, func(r *model.SettlementRecord) bool { return r.LessonID == lessonID }), nil
}

func (s *Store) StartProcessing(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[id]
	if !ok || rec.Status != model.SettlementStatusQueued {
		return model.ErrConcurrentUpdate
	}
	started := now
	rec.Status = model.SettlementStatusProcessing
	rec.ProcessingStartedAt = &started
	return nil
}

func (s *Store) Claim(_ context.Context, id uuid.UUID, now, until time.Time) (*model.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[id]
	if !ok || rec.Status != model.SettlementStatusProcessing {
		return nil, model.ErrConcurrentUpdate
	}
	if rec.ClaimedUntil != nil && rec.ClaimedUntil.After(now) {
		return nil, model.ErrConcurrentUpdate
	}
	lease := until
	rec.ClaimedUntil = &lease
	return rec.Clone(), nil
}

// RecordAttempt applies only if attempts is exactly one more than the stored count.
func (s *Store) RecordAttempt(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[id]
	if !ok || rec.Status != model.SettlementStatusProcessing || rec.Attempts != attempts-1 {
		return model.ErrConcurrentUpdate
	}
	rec.Attempts = attempts
	rec.LastError = lastErr
	rec.ClaimedUntil = nil
	return nil
}

func (s *Store) Finish(_ context.Context, outcome model.SettlementOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[outcome.RecordID]
	if !ok || rec.Status != model.SettlementStatusProcessing || rec.Attempts != outcome.Attempts {
		return model.ErrConcurrentUpdate
	}

	rec.Status = outcome.Status
	rec.Attempts = outcome.Attempts + 1
	rec.LastError = outcome.LastError
	rec.ClaimedUntil = nil
	if outcome.Status == model.SettlementStatusSettled {
		at := outcome.At
		rec.SettledAt = &at
		if outcome.ProviderTxID != nil {
			txID := *outcome.ProviderTxID
			rec.ProviderTxID = &txID
		}
	}
	s.appendNotificationsLocked(outcome.Notifications)
	return nil
}

// Settlement returns one record, used by tests and inspection.
func (s *Store) Settlement(id uuid.UUID) (*model.SettlementRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *Store) filterSettlements(limit int, keep func(r *model.SettlementRecord) bool) []*model.SettlementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.SettlementRecord
	for _, r := range s.settlements {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
