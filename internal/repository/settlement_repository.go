package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/repository/base"
)

const settlementColumns = `id, kind, beneficiary_id, lesson_id, amount_minor, currency, provider, status,
	attempts, last_error, created_at, processing_started_at, settled_at, provider_tx_id, claimed_until`

type SettlementRepository struct {
	*base.Repository
}

func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{Repository: base.NewRepository(pool)}
}

func (r *SettlementRepository) ListByStatus(ctx context.Context, status model.SettlementStatus, limit int) ([]*model.SettlementRecord, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlement_records
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`
	return r.list(ctx, query, status, limit)
}

func (r *SettlementRepository) ListByLesson(ctx context.Context, lessonID uuid.UUID) ([]*model.SettlementRecord, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_records WHERE lesson_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, lessonID)
}

func (r *SettlementRepository) StartProcessing(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE settlement_records
		SET status = 'processing', processing_started_at = $2
		WHERE id = $1 AND status = 'queued'
	`
	return r.cas(ctx, "start settlement processing", query, id, now)
}

// Claim выдаёт аренду на запись, если предыдущая истекла
func (r *SettlementRepository) Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (*model.SettlementRecord, error) {
	query := `
		UPDATE settlement_records
		SET claimed_until = $3
		WHERE id = $1
		  AND status = 'processing'
		  AND (claimed_until IS NULL OR claimed_until <= $2)
		RETURNING ` + settlementColumns

	rec, err := scanSettlement(r.Pool().QueryRow(ctx, query, id, now, until))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, model.ErrConcurrentUpdate
		}
		return nil, fmt.Errorf("claim settlement: %w", err)
	}
	return rec, nil
}

func (r *SettlementRepository) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	query := `
		UPDATE settlement_records
		SET attempts = $2, last_error = $3, claimed_until = NULL
		WHERE id = $1 AND status = 'processing' AND attempts = $2 - 1
	`
	return r.cas(ctx, "record settlement attempt", query, id, attempts, lastErr)
}

// Finish записывает итог и уведомление в одной транзакции
func (r *SettlementRepository) Finish(ctx context.Context, outcome model.SettlementOutcome) error {
	var settledAt *time.Time
	if outcome.Status == model.SettlementStatusSettled {
		at := outcome.At
		settledAt = &at
	}

	return r.InTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE settlement_records
			SET status = $3,
				attempts = $2 + 1,
				last_error = $4,
				settled_at = $5,
				provider_tx_id = COALESCE($6, provider_tx_id),
				claimed_until = NULL
			WHERE id = $1 AND status = 'processing' AND attempts = $2
		`
		affected, err := base.ExecAffected(ctx, tx, query,
			outcome.RecordID,
			outcome.Attempts,
			outcome.Status,
			outcome.LastError,
			settledAt,
			outcome.ProviderTxID,
		)
		if err != nil {
			return fmt.Errorf("finish settlement: %w", err)
		}
		if affected == 0 {
			return model.ErrConcurrentUpdate
		}
		return insertNotifications(ctx, tx, outcome.Notifications)
	})
}

func (r *SettlementRepository) cas(ctx context.Context, op, query string, args ...any) error {
	affected, err := base.ExecAffected(ctx, r.Pool(), query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return model.ErrConcurrentUpdate
	}
	return nil
}

func (r *SettlementRepository) list(ctx context.Context, query string, args ...any) ([]*model.SettlementRecord, error) {
	rows, err := r.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var records []*model.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return records, nil
}

func insertSettlement(ctx context.Context, q base.Querier, rec *model.SettlementRecord) error {
	query := `
		INSERT INTO settlement_records (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := q.Exec(ctx, query,
		rec.ID,
		rec.Kind,
		rec.BeneficiaryID,
		rec.LessonID,
		rec.AmountMinor,
		rec.Currency,
		rec.Provider,
		rec.Status,
		rec.Attempts,
		rec.LastError,
		rec.CreatedAt,
		rec.ProcessingStartedAt,
		rec.SettledAt,
		rec.ProviderTxID,
		rec.ClaimedUntil,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func scanSettlement(row pgx.Row) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.BeneficiaryID,
		&rec.LessonID,
		&rec.AmountMinor,
		&rec.Currency,
		&rec.Provider,
		&rec.Status,
		&rec.Attempts,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.ProcessingStartedAt,
		&rec.SettledAt,
		&rec.ProviderTxID,
		&rec.ClaimedUntil,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
