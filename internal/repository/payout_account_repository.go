package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/repository/base"
)

type PayoutAccountRepository struct {
	*base.Repository
}

func NewPayoutAccountRepository(pool *pgxpool.Pool) *PayoutAccountRepository {
	return &PayoutAccountRepository{Repository: base.NewRepository(pool)}
}

// GetPayoutAccount получает реквизиты учителя, nil если их ещё нет
func (r *PayoutAccountRepository) GetPayoutAccount(ctx context.Context, tutorID int64) (*model.PayoutAccount, error) {
	query := `
		SELECT tutor_id, name, account, bank, email, updated_at
		FROM payout_accounts
		WHERE tutor_id = $1
	`

	var a model.PayoutAccount
	err := r.Pool().QueryRow(ctx, query, tutorID).Scan(
		&a.TutorID,
		&a.Name,
		&a.Account,
		&a.Bank,
		&a.Email,
		&a.UpdatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout account: %w", err)
	}
	return &a, nil
}

func (r *PayoutAccountRepository) SavePayoutAccount(ctx context.Context, a *model.PayoutAccount) error {
	query := `
		INSERT INTO payout_accounts (tutor_id, name, account, bank, email, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tutor_id) DO UPDATE SET
			name = EXCLUDED.name,
			account = EXCLUDED.account,
			bank = EXCLUDED.bank,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.Pool().Exec(ctx, query, a.TutorID, a.Name, a.Account, a.Bank, a.Email, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payout account: %w", err)
	}
	return nil
}
