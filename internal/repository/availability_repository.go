package repository

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/repository/base"
)

type AvailabilityRepository struct {
	*base.Repository
}

func NewAvailabilityRepository(pool *pgxpool.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{Repository: base.NewRepository(pool)}
}

// GetRules получает правила доступности учителя, nil если их ещё нет
func (r *AvailabilityRepository) GetRules(ctx context.Context, tutorID int64) (*model.AvailabilityRules, error) {
	query := `
		SELECT tutor_id, timezone, slot_interval_minutes, slot_start_policy, weekly, exceptions, updated_at
		FROM availability_rules
		WHERE tutor_id = $1
	`

	var (
		rules      model.AvailabilityRules
		weekly     []byte
		exceptions []byte
	)
	err := r.Pool().QueryRow(ctx, query, tutorID).Scan(
		&rules.TutorID,
		&rules.Timezone,
		&rules.SlotIntervalMinutes,
		&rules.SlotStartPolicy,
		&weekly,
		&exceptions,
		&rules.UpdatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability rules: %w", err)
	}

	if err := decodeRules(&rules, weekly, exceptions); err != nil {
		return nil, err
	}
	return &rules, nil
}

// SaveRules сохраняет правила целиком (upsert)
func (r *AvailabilityRepository) SaveRules(ctx context.Context, rules *model.AvailabilityRules) error {
	weekly, exceptions, err := encodeRules(rules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO availability_rules (tutor_id, timezone, slot_interval_minutes, slot_start_policy, weekly, exceptions, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7)
		ON CONFLICT (tutor_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			slot_interval_minutes = EXCLUDED.slot_interval_minutes,
			slot_start_policy = EXCLUDED.slot_start_policy,
			weekly = EXCLUDED.weekly,
			exceptions = EXCLUDED.exceptions,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.Pool().Exec(ctx, query,
		rules.TutorID,
		rules.Timezone,
		rules.SlotIntervalMinutes,
		rules.SlotStartPolicy,
		weekly,
		exceptions,
		rules.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save availability rules: %w", err)
	}
	return nil
}

func encodeRules(rules *model.AvailabilityRules) (string, string, error) {
	weekly := rules.Weekly
	if weekly == nil {
		weekly = map[int][]model.TimeRange{}
	}
	exceptions := rules.Exceptions
	if exceptions == nil {
		exceptions = []model.DateException{}
	}

	w, err := sonic.MarshalString(weekly)
	if err != nil {
		return "", "", fmt.Errorf("encode weekly rules: %w", err)
	}
	e, err := sonic.MarshalString(exceptions)
	if err != nil {
		return "", "", fmt.Errorf("encode exceptions: %w", err)
	}
	return w, e, nil
}

func decodeRules(rules *model.AvailabilityRules, weekly, exceptions []byte) error {
	rules.Weekly = map[int][]model.TimeRange{}
	if len(weekly) > 0 {
		if err := sonic.Unmarshal(weekly, &rules.Weekly); err != nil {
			return fmt.Errorf("decode weekly rules: %w", err)
		}
	}
	rules.Exceptions = []model.DateException{}
	if len(exceptions) > 0 {
		if err := sonic.Unmarshal(exceptions, &rules.Exceptions); err != nil {
			return fmt.Errorf("decode exceptions: %w", err)
		}
	}
	return nil
}
