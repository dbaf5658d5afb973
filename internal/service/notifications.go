package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/formatting"
	"github.com/Freeeeeet/tutorbook/internal/model"
)

func newNotification(userID int64, kind model.NotificationKind, relatedID uuid.UUID, now time.Time, title, body string) *model.Notification {
	return &model.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Kind:      kind,
		RelatedID: relatedID,
		CreatedAt: now,
	}
}

func lessonWhen(l *model.Lesson) string {
	return formatting.FormatLessonTime(l.StartAt, l.DurationMinutes, time.UTC)
}

// lessonNotifications returns what a transition of l via action tells its parties.
// actor is the user who triggered the action, zero for system actions.
func lessonNotifications(action model.LessonAction, l *model.Lesson, actor int64, now time.Time) []*model.Notification {
	when := lessonWhen(l)

	switch action {
	case model.ActionBook:
		return []*model.Notification{
			newNotification(l.TutorID, model.NotificationLessonBooked, l.ID, now,
				"📅 Новая запись",
				fmt.Sprintf("Ученик записался на урок %s. Ожидается оплата %s.", when, formatting.FormatMoney(l.PriceMinor, l.Currency))),
		}
	case model.ActionBookTrial:
		return []*model.Notification{
			newNotification(l.TutorID, model.NotificationLessonBooked, l.ID, now,
				"🎁 Пробный урок",
				fmt.Sprintf("Ученик записался на пробный урок %s.", when)),
			newNotification(l.StudentID, model.NotificationLessonConfirmed, l.ID, now,
				"✅ Пробный урок подтверждён",
				fmt.Sprintf("Ваш пробный урок %s подтверждён.", when)),
		}
	case model.ActionMarkPaid:
		return []*model.Notification{
			newNotification(l.TutorID, model.NotificationLessonPaid, l.ID, now,
				"💳 Урок оплачен",
				fmt.Sprintf("Урок %s оплачен и ждёт вашего подтверждения.", when)),
		}
	case model.ActionTutorConfirm:
		return []*model.Notification{
			newNotification(l.StudentID, model.NotificationLessonConfirmed, l.ID, now,
				"✅ Урок подтверждён",
				fmt.Sprintf("Преподаватель подтвердил урок %s.", when)),
		}
	case model.ActionTutorReject:
		return []*model.Notification{
			newNotification(l.StudentID, model.NotificationLessonRejected, l.ID, now,
				"🚫 Урок отклонён",
				withReason(fmt.Sprintf("Преподаватель отклонил урок %s. Деньги будут возвращены.", when), l.CancelReason)),
		}
	case model.ActionStudentCancel:
		return []*model.Notification{
			newNotification(l.TutorID, model.NotificationLessonCancelled, l.ID, now,
				"❌ Урок отменён",
				withReason(fmt.Sprintf("Ученик отменил урок %s.", when), l.CancelReason)),
		}
	case model.ActionRequestReschedule:
		proposed := ""
		if l.ProposedStartAt != nil {
			proposed = formatting.FormatLessonTime(*l.ProposedStartAt, l.DurationMinutes, time.UTC)
		}
		return []*model.Notification{
			newNotification(counterpart(l, actor), model.NotificationRescheduleRequested, l.ID, now,
				"🔄 Запрос на перенос",
				fmt.Sprintf("Предложено перенести урок %s на %s.", when, proposed)),
		}
	case model.ActionApproveReschedule:
		// решение принимает не тот, кто запросил перенос
		return []*model.Notification{
			newNotification(counterpart(l, actor), model.NotificationRescheduleApproved, l.ID, now,
				"🔄 Перенос согласован",
				fmt.Sprintf("Урок перенесён на %s.", when)),
		}
	case model.ActionRejectReschedule:
		return []*model.Notification{
			newNotification(counterpart(l, actor), model.NotificationRescheduleRejected, l.ID, now,
				"🔄 Перенос отклонён",
				fmt.Sprintf("Урок остаётся в прежнее время: %s.", when)),
		}
	case model.ActionMarkCompleted:
		return both(l, model.NotificationLessonCompleted, now,
			"✔️ Урок завершён",
			fmt.Sprintf("Урок %s завершён.", when))
	case model.ActionExpire:
		return both(l, model.NotificationLessonExpired, now,
			"⌛ Урок истёк",
			fmt.Sprintf("Урок %s не был завершён и истёк.", when))
	case model.ActionRefundCharge:
		return []*model.Notification{
			newNotification(l.StudentID, model.NotificationChargeRefunded, l.ID, now,
				"💸 Оплата будет возвращена",
				fmt.Sprintf("Оплату урока %s не удалось принять: урок уже изменился. Списанные %s будут возвращены.",
					when, formatting.FormatMoney(l.PriceMinor, l.Currency))),
		}
	}
	return nil
}

func counterpart(l *model.Lesson, actor int64) int64 {
	if actor == l.TutorID {
		return l.StudentID
	}
	return l.TutorID
}

func both(l *model.Lesson, kind model.NotificationKind, now time.Time, title, body string) []*model.Notification {
	return []*model.Notification{
		newNotification(l.TutorID, kind, l.ID, now, title, body),
		newNotification(l.StudentID, kind, l.ID, now, title, body),
	}
}

func withReason(text, reason string) string {
	if reason == "" {
		return text
	}
	return text + " Причина: " + reason
}

// settlementNotification is the single notice sent when a record reaches a terminal status.
func settlementNotification(r *model.SettlementRecord, status model.SettlementStatus, now time.Time) *model.Notification {
	amount := formatting.FormatMoney(r.AmountMinor, r.Currency)

	switch {
	case r.Kind == model.SettlementKindPayout && status == model.SettlementStatusSettled:
		return newNotification(r.BeneficiaryID, model.NotificationPayoutSettled, r.ID, now,
			"💰 Выплата проведена", fmt.Sprintf("Выплата %s за урок отправлена.", amount))
	case r.Kind == model.SettlementKindPayout:
		return newNotification(r.BeneficiaryID, model.NotificationPayoutFailed, r.ID, now,
			"⚠️ Ошибка выплаты", fmt.Sprintf("Не удалось провести выплату %s: %s", amount, r.LastError))
	case status == model.SettlementStatusSettled:
		return newNotification(r.BeneficiaryID, model.NotificationRefundSettled, r.ID, now,
			"💸 Возврат проведён", fmt.Sprintf("Возврат %s отправлен.", amount))
	default:
		return newNotification(r.BeneficiaryID, model.NotificationRefundFailed, r.ID, now,
			"⚠️ Ошибка возврата", fmt.Sprintf("Не удалось провести возврат %s: %s", amount, r.LastError))
	}
}
