package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

func (s *Store) CreateLesson(_ context.Context, lesson *model.Lesson, notifications []*model.Notification, guard service.BookingGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := s.usageLocked(lesson.StudentID)
	if guard != nil {
		snapshot := model.BookingSnapshot{
			Usage:        usage,
			TutorLessons: s.activeByTutorLocked(lesson.TutorID, lesson.StartAt, lesson.EndAt()),
		}
		if err := guard(snapshot); err != nil {
			return err
		}
	}

	s.lessons[lesson.ID] = lesson.Clone()
	if lesson.IsTrial {
		usage.Total++
		usage.ByTutor[lesson.TutorID]++
		s.trials[lesson.StudentID] = usage
	}
	s.appendNotificationsLocked(notifications)
	return nil
}

func (s *Store) GetLesson(_ context.Context, id uuid.UUID) (*model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lesson, ok := s.lessons[id]
	if !ok {
		return nil, nil
	}
	return lesson.Clone(), nil
}

func (s *Store) ListByStudent(_ context.Context, studentID int64) ([]*model.Lesson, error) {
	return s.filter(func(l *model.Lesson) bool { return l.StudentID == studentID }), nil
}

func (s *Store) ListByTutor(_ context.Context, tutorID int64) ([]*model.Lesson, error) {
	return s.filter(func(l *model.Lesson) bool { return l.TutorID == tutorID }), nil
}

func (s *Store) ListActiveByTutor(_ context.Context, tutorID int64, from, to time.Time) ([]*model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeByTutorLocked(tutorID, from, to), nil
}

func (s *Store) ListEndedBefore(_ context.Context, cutoff time.Time, limit int) ([]*model.Lesson, error) {
	out := s.filter(func(l *model.Lesson) bool {
		return !l.Status.IsTerminal() && !l.EndAt().After(cutoff)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ApplyChange(_ context.Context, change model.LessonChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.lessons[change.Lesson.ID]
	if !ok || stored.Status != change.From {
		return model.ErrConcurrentUpdate
	}
	if change.SlotGuard != nil {
		l := change.Lesson
		if err := change.SlotGuard(s.activeByTutorLocked(l.TutorID, l.StartAt, l.EndAt())); err != nil {
			return err
		}
	}

	s.lessons[change.Lesson.ID] = change.Lesson.Clone()
	for _, rec := range change.Settlements {
		s.settlements[rec.ID] = rec.Clone()
	}
	s.appendNotificationsLocked(change.Notifications)
	return nil
}

func (s *Store) TrialUsage(_ context.Context, studentID int64) (model.TrialUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageLocked(studentID), nil
}

// usageLocked returns a copy of the student's usage.
func (s *Store) usageLocked(studentID int64) model.TrialUsage {
	usage := model.NewTrialUsage(studentID)
	stored, ok := s.trials[studentID]
	if !ok {
		return usage
	}
	usage.Total = stored.Total
	for tutorID, n := range stored.ByTutor {
		usage.ByTutor[tutorID] = n
	}
	return usage
}

func (s *Store) activeByTutorLocked(tutorID int64, from, to time.Time) []*model.Lesson {
	var out []*model.Lesson
	for _, l := range s.lessons {
		if l.TutorID == tutorID && !l.Status.IsTerminal() && l.Overlaps(from, to) {
			out = append(out, l.Clone())
		}
	}
	sortLessons(out)
	return out
}

func (s *Store) filter(keep func(l *model.Lesson) bool) []*model.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Lesson
	for _, l := range s.lessons {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sortLessons(out)
	return out
}

func sortLessons(lessons []*model.Lesson) {
	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].StartAt.Equal(lessons[j].StartAt) {
			return lessons[i].CreatedAt.Before(lessons[j].CreatedAt)
		}
		return lessons[i].StartAt.Before(lessons[j].StartAt)
	})
}
