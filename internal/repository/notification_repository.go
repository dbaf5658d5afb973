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

const notificationColumns = `id, user_id, title, body, kind, related_id, read, created_at, dispatched_at, attempts`

type NotificationRepository struct {
	*base.Repository
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{Repository: base.NewRepository(pool)}
}

// ListUndispatched возвращает уведомления, ещё не отправленные получателям
func (r *NotificationRepository) ListUndispatched(ctx context.Context, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE dispatched_at IS NULL
		ORDER BY attempts, created_at, id
		LIMIT $1
	`
	rows, err := r.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched notifications: %w", err)
	}
	return scanNotifications(rows)
}

// MarkDispatched отмечает уведомление отправленным; повторная отметка даёт ErrConcurrentUpdate
func (r *NotificationRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	affected, err := base.ExecAffected(ctx, r.Pool(),
		`UPDATE notifications SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark notification dispatched: %w", err)
	}
	if affected == 0 {
		return model.ErrConcurrentUpdate
	}
	return nil
}

// RecordFailure увеличивает счётчик неудачных попыток доставки
func (r *NotificationRepository) RecordFailure(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.Pool().QueryRow(ctx,
		`UPDATE notifications SET attempts = attempts + 1 WHERE id = $1 AND dispatched_at IS NULL RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		if base.IsNotFound(err) {
			return 0, model.ErrConcurrentUpdate
		}
		return 0, fmt.Errorf("record notification failure: %w", err)
	}
	return attempts, nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми
func (r *NotificationRepository) ListNotifications(ctx context.Context, userID int64, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return scanNotifications(rows)
}

// insertNotifications пишет уведомления в той же транзакции, что и вызвавший их переход
func insertNotifications(ctx context.Context, q base.Querier, notifications []*model.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, body, kind, related_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, n := range notifications {
		_, err := q.Exec(ctx, query, n.ID, n.UserID, n.Title, n.Body, n.Kind, n.RelatedID, n.Read, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}

func scanNotifications(rows pgx.Rows) ([]*model.Notification, error) {
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		var n model.Notification
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Title,
			&n.Body,
			&n.Kind,
			&n.RelatedID,
			&n.Read,
			&n.CreatedAt,
			&n.DispatchedAt,
			&n.Attempts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
