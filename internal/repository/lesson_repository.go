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
	"github.com/Freeeeeet/tutorbook/internal/service"
)

const lessonColumns = `id, tutor_id, student_id, start_at, duration_minutes, is_trial, price_minor, currency,
	status, notes, cancel_reason, proposed_start_at, reschedule_requested_by, paid_at, created_at, updated_at`

// Урок активен, пока статус не терминальный
const activeLessonFilter = `status NOT IN ('completed', 'cancelled', 'expired')`

type LessonRepository struct {
	*base.Repository
}

func NewLessonRepository(pool *pgxpool.Pool) *LessonRepository {
	return &LessonRepository{Repository: base.NewRepository(pool)}
}

// CreateLesson создаёт урок под блокировками учителя и ученика. Guard видит занятость
// учителя и расход пробных уроков ученика на момент вставки.
func (r *LessonRepository) CreateLesson(ctx context.Context, lesson *model.Lesson, notifications []*model.Notification, guard service.BookingGuard) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		if err := base.AdvisoryLock(ctx, tx, fmt.Sprintf("tutor:%d", lesson.TutorID)); err != nil {
			return err
		}
		if err := base.AdvisoryLock(ctx, tx, fmt.Sprintf("student:%d", lesson.StudentID)); err != nil {
			return err
		}

		if guard != nil {
			busy, err := r.activeByTutor(ctx, tx, lesson.TutorID, lesson.StartAt, lesson.EndAt())
			if err != nil {
				return err
			}
			usage, err := trialUsage(ctx, tx, lesson.StudentID)
			if err != nil {
				return err
			}
			if err := guard(model.BookingSnapshot{Usage: usage, TutorLessons: busy}); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO lessons (` + lessonColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`
		_, err := tx.Exec(ctx, query,
			lesson.ID,
			lesson.TutorID,
			lesson.StudentID,
			lesson.StartAt,
			lesson.DurationMinutes,
			lesson.IsTrial,
			lesson.PriceMinor,
			lesson.Currency,
			lesson.Status,
			lesson.Notes,
			lesson.CancelReason,
			lesson.ProposedStartAt,
			lesson.RescheduleRequestedBy,
			lesson.PaidAt,
			lesson.CreatedAt,
			lesson.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert lesson: %w", err)
		}

		if lesson.IsTrial {
			_, err := tx.Exec(ctx, `
				INSERT INTO trial_usage (student_id, tutor_id, used)
				VALUES ($1, $2, 1)
				ON CONFLICT (student_id, tutor_id) DO UPDATE SET used = trial_usage.used + 1
			`, lesson.StudentID, lesson.TutorID)
			if err != nil {
				return fmt.Errorf("consume trial: %w", err)
			}
		}

		return insertNotifications(ctx, tx, notifications)
	})
}

// GetLesson получает урок по ID, nil если не найден
func (r *LessonRepository) GetLesson(ctx context.Context, id uuid.UUID) (*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`

	lesson, err := scanLesson(r.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lesson by id: %w", err)
	}
	return lesson, nil
}

func (r *LessonRepository) ListByStudent(ctx context.Context, studentID int64) ([]*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE student_id = $1 ORDER BY start_at, created_at`
	return r.list(ctx, r.Pool(), query, studentID)
}

func (r *LessonRepository) ListByTutor(ctx context.Context, tutorID int64) ([]*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE tutor_id = $1 ORDER BY start_at, created_at`
	return r.list(ctx, r.Pool(), query, tutorID)
}

func (r *LessonRepository) ListActiveByTutor(ctx context.Context, tutorID int64, from, to time.Time) ([]*model.Lesson, error) {
	return r.activeByTutor(ctx, r.Pool(), tutorID, from, to)
}

// ListEndedBefore возвращает нетерминальные уроки, закончившиеся не позже cutoff
func (r *LessonRepository) ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE ` + activeLessonFilter + `
		  AND start_at + make_interval(mins => duration_minutes) <= $1
		ORDER BY start_at
		LIMIT $2
	`
	return r.list(ctx, r.Pool(), query, cutoff, limit)
}

// ApplyChange применяет переход: CAS по статусу плюс все побочные записи в одной транзакции
func (r *LessonRepository) ApplyChange(ctx context.Context, change model.LessonChange) error {
	l := change.Lesson

	return r.InTx(ctx, func(tx pgx.Tx) error {
		// Тот же ключ, что и при создании урока: перенос и запись на время тьютора не пересекаются
		if change.SlotGuard != nil {
			if err := base.AdvisoryLock(ctx, tx, fmt.Sprintf("tutor:%d", l.TutorID)); err != nil {
				return err
			}
			busy, err := r.activeByTutor(ctx, tx, l.TutorID, l.StartAt, l.EndAt())
			if err != nil {
				return err
			}
			if err := change.SlotGuard(busy); err != nil {
				return err
			}
		}

		query := `
			UPDATE lessons
			SET status = $3,
				start_at = $4,
				cancel_reason = $5,
				proposed_start_at = $6,
				reschedule_requested_by = $7,
				paid_at = $8,
				updated_at = $9
			WHERE id = $1 AND status = $2
		`
		affected, err := base.ExecAffected(ctx, tx, query,
			l.ID,
			change.From,
			l.Status,
			l.StartAt,
			l.CancelReason,
			l.ProposedStartAt,
			l.RescheduleRequestedBy,
			l.PaidAt,
			l.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update lesson: %w", err)
		}
		if affected == 0 {
			return model.ErrConcurrentUpdate
		}

		for _, rec := range change.Settlements {
			if err := insertSettlement(ctx, tx, rec); err != nil {
				return err
			}
		}
		return insertNotifications(ctx, tx, change.Notifications)
	})
}

func (r *LessonRepository) TrialUsage(ctx context.Context, studentID int64) (model.TrialUsage, error) {
	return trialUsage(ctx, r.Pool(), studentID)
}

func (r *LessonRepository) activeByTutor(ctx context.Context, q base.Querier, tutorID int64, from, to time.Time) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE tutor_id = $1
		  AND ` + activeLessonFilter + `
		  AND start_at < $3
		  AND start_at + make_interval(mins => duration_minutes) > $2
		ORDER BY start_at
	`
	return r.list(ctx, q, query, tutorID, from, to)
}

func (r *LessonRepository) list(ctx context.Context, q base.Querier, query string, args ...any) ([]*model.Lesson, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*model.Lesson
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return lessons, nil
}

func trialUsage(ctx context.Context, q base.Querier, studentID int64) (model.TrialUsage, error) {
	rows, err := q.Query(ctx, `SELECT tutor_id, used FROM trial_usage WHERE student_id = $1`, studentID)
	if err != nil {
		return model.TrialUsage{}, fmt.Errorf("get trial usage: %w", err)
	}
	defer rows.Close()

	usage := model.NewTrialUsage(studentID)
	for rows.Next() {
		var tutorID int64
		var used int
		if err := rows.Scan(&tutorID, &used); err != nil {
			return model.TrialUsage{}, fmt.Errorf("scan trial usage: %w", err)
		}
		usage.ByTutor[tutorID] = used
		usage.Total += used
	}
	if err := rows.Err(); err != nil {
		return model.TrialUsage{}, fmt.Errorf("iterate trial usage: %w", err)
	}
	return usage, nil
}

func scanLesson(row pgx.Row) (*model.Lesson, error) {
	var l model.Lesson
	err := row.Scan(
		&l.ID,
		&l.TutorID,
		&l.StudentID,
		&l.StartAt,
		&l.DurationMinutes,
		&l.IsTrial,
		&l.PriceMinor,
		&l.Currency,
		&l.Status,
		&l.Notes,
		&l.CancelReason,
		&l.ProposedStartAt,
		&l.RescheduleRequestedBy,
		&l.PaidAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.StartAt = l.StartAt.UTC()
	return &l, nil
}
