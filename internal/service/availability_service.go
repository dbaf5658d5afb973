package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

// AvailabilityService owns the tutors' availability rules.
type AvailabilityService struct {
	rules  RulesStore
	logger *zap.Logger
	now    func() time.Time
}

func NewAvailabilityService(rules RulesStore, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{
		rules:  rules,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (s *AvailabilityService) WithClock(now func() time.Time) *AvailabilityService {
	s.now = now
	return s
}

// Get возвращает правила тьютора или правила по умолчанию (нет доступности)
func (s *AvailabilityService) Get(ctx context.Context, tutorID int64) (*model.AvailabilityRules, error) {
	rules, err := s.rules.GetRules(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("get availability rules: %w", err)
	}
	if rules == nil {
		return model.DefaultAvailabilityRules(tutorID), nil
	}
	return rules, nil
}

// Put validates and stores the rules as given. Invalid rules are rejected whole.
func (s *AvailabilityService) Put(ctx context.Context, rules *model.AvailabilityRules) error {
	if rules == nil {
		return model.NewValidationError(fmt.Errorf("availability rules are required"))
	}
	if err := rules.Validate(); err != nil {
		return err
	}

	stored := rules.Clone()
	stored.UpdatedAt = s.now().UTC()

	if err := s.rules.SaveRules(ctx, stored); err != nil {
		return fmt.Errorf("save availability rules: %w", err)
	}
	rules.UpdatedAt = stored.UpdatedAt

	s.logger.Info("Availability rules updated",
		zap.Int64("tutor_id", rules.TutorID),
		zap.String("timezone", rules.Timezone),
		zap.Int("interval", rules.SlotIntervalMinutes),
		zap.Int("exceptions", len(rules.Exceptions)),
	)
	return nil
}

// AddException adds or replaces the exception for its date.
func (s *AvailabilityService) AddException(ctx context.Context, tutorID int64, exception model.DateException) (*model.AvailabilityRules, error) {
	rules, err := s.Get(ctx, tutorID)
	if err != nil {
		return nil, err
	}

	updated := rules.Clone()
	kept := updated.Exceptions[:0]
	for _, ex := range updated.Exceptions {
		if ex.Date != exception.Date {
			kept = append(kept, ex)
		}
	}
	updated.Exceptions = append(kept, exception)

	if err := s.Put(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveException drops the exception for date. Removing a missing date is a no-op.
func (s *AvailabilityService) RemoveException(ctx context.Context, tutorID int64, date string) (*model.AvailabilityRules, error) {
	rules, err := s.Get(ctx, tutorID)
	if err != nil {
		return nil, err
	}
	if _, ok := rules.Exception(date); !ok {
		return rules, nil
	}

	updated := rules.Clone()
	kept := updated.Exceptions[:0]
	for _, ex := range updated.Exceptions {
		if ex.Date != date {
			kept = append(kept, ex)
		}
	}
	updated.Exceptions = kept

	if err := s.Put(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
