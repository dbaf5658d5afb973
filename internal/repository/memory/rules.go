package memory

import (
	"context"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

func (s *Store) GetRules(_ context.Context, tutorID int64) (*model.AvailabilityRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, ok := s.rules[tutorID]
	if !ok {
		return nil, nil
	}
	return rules.Clone(), nil
}

func (s *Store) SaveRules(_ context.Context, rules *model.AvailabilityRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rules.TutorID] = rules.Clone()
	return nil
}

func (s *Store) GetPayoutAccount(_ context.Context, tutorID int64) (*model.PayoutAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[tutorID]
	if !ok {
		return nil, nil
	}
	return account.Clone(), nil
}

func (s *Store) SavePayoutAccount(_ context.Context, account *model.PayoutAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.TutorID] = account.Clone()
	return nil
}
