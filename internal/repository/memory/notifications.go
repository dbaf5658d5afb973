package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

func (s *Store) ListUndispatched(_ context.Context, limit int) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Notification
	for _, n := range s.notifications {
		if n.DispatchedAt == nil {
			out = append(out, cloneNotification(n))
		}
	}
	// новые уведомления не ждут за теми, что раз за разом падают
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordFailure(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.ID != id {
			continue
		}
		if n.DispatchedAt != nil {
			return n.Attempts, model.ErrConcurrentUpdate
		}
		n.Attempts++
		return n.Attempts, nil
	}
	return 0, model.ErrConcurrentUpdate
}

func (s *Store) MarkDispatched(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.ID != id {
			continue
		}
		if n.DispatchedAt != nil {
			return model.ErrConcurrentUpdate
		}
		dispatched := at
		n.DispatchedAt = &dispatched
		return nil
	}
	return model.ErrConcurrentUpdate
}

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(_ context.Context, userID int64, limit int) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID {
			continue
		}
		out = append(out, cloneNotification(n))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Notifications returns every stored notification in insertion order.
func (s *Store) Notifications() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, cloneNotification(n))
	}
	return out
}

func (s *Store) appendNotificationsLocked(notifications []*model.Notification) {
	for _, n := range notifications {
		s.notifications = append(s.notifications, cloneNotification(n))
	}
}

func cloneNotification(n *model.Notification) *model.Notification {
	out := *n
	if n.DispatchedAt != nil {
		t := *n.DispatchedAt
		out.DispatchedAt = &t
	}
	return &out
}
