package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
)

// PayoutAccountService keeps the bank accounts tutors are paid out to and resolves
// them for the payment provider.
type PayoutAccountService struct {
	accounts PayoutAccountStore
	logger   *zap.Logger
	now      func() time.Time
}

var _ provider.BeneficiaryResolver = (*PayoutAccountService)(nil)

func NewPayoutAccountService(accounts PayoutAccountStore, logger *zap.Logger) *PayoutAccountService {
	return &PayoutAccountService{
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (s *PayoutAccountService) WithClock(now func() time.Time) *PayoutAccountService {
	s.now = now
	return s
}

// Get returns nil, nil when the tutor has not saved an account yet.
func (s *PayoutAccountService) Get(ctx context.Context, tutorID int64) (*model.PayoutAccount, error) {
	account, err := s.accounts.GetPayoutAccount(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("get payout account: %w", err)
	}
	return account, nil
}

func (s *PayoutAccountService) Put(ctx context.Context, account *model.PayoutAccount) error {
	if account == nil {
		return model.NewValidationError(fmt.Errorf("payout account is required"))
	}
	if err := account.Validate(); err != nil {
		return err
	}

	stored := account.Clone()
	stored.UpdatedAt = s.now().UTC()
	if err := s.accounts.SavePayoutAccount(ctx, stored); err != nil {
		return fmt.Errorf("save payout account: %w", err)
	}
	account.UpdatedAt = stored.UpdatedAt

	s.logger.Info("Payout account updated",
		zap.Int64("tutor_id", account.TutorID),
		zap.String("bank", account.Bank),
	)
	return nil
}

// Beneficiary resolves the payout details of a tutor. A tutor without an account gets a
// transient error, so the payout is retried once the account is saved.
func (s *PayoutAccountService) Beneficiary(ctx context.Context, userID int64) (provider.Beneficiary, error) {
	account, err := s.Get(ctx, userID)
	if err != nil {
		return provider.Beneficiary{}, err
	}
	if account == nil {
		return provider.Beneficiary{}, fmt.Errorf("%w: tutor %d has no payout account", provider.ErrTransient, userID)
	}
	return provider.Beneficiary{
		Name:    account.Name,
		Account: account.Account,
		Bank:    account.Bank,
		Email:   account.Email,
	}, nil
}
