package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

// Callback data prefixes of the inline buttons attached to notifications.
const (
	CallbackConfirm        = "lesson_confirm:"  // lesson_confirm:<lesson_id>
	CallbackReject         = "lesson_reject:"   // lesson_reject:<lesson_id>
	CallbackApproveResched = "resched_approve:" // resched_approve:<lesson_id>
	CallbackRejectResched  = "resched_reject:"  // resched_reject:<lesson_id>
)

// MessageSender is the part of *bot.Bot the sink needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramSink sends notifications as private messages. A user's ID is their Telegram ID.
type TelegramSink struct {
	sender MessageSender
}

func NewTelegramSink(sender MessageSender) *TelegramSink {
	return &TelegramSink{sender: sender}
}

func (s *TelegramSink) Deliver(ctx context.Context, n *model.Notification) error {
	params := &bot.SendMessageParams{
		ChatID:    n.UserID,
		Text:      fmt.Sprintf("<b>%s</b>\n\n%s", html.EscapeString(n.Title), html.EscapeString(n.Body)),
		ParseMode: models.ParseModeHTML,
	}
	if keyboard := Keyboard(n); keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := s.sender.SendMessage(ctx, params)
	if err != nil {
		// Бот заблокирован или чат не существует: повтор не поможет
		if errors.Is(err, bot.ErrorForbidden) || errors.Is(err, bot.ErrorBadRequest) {
			return fmt.Errorf("%w: %v", ErrUndeliverable, err)
		}
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Keyboard returns the decision buttons for notifications that ask the user to act.
func Keyboard(n *model.Notification) *models.InlineKeyboardMarkup {
	id := n.RelatedID.String()

	switch n.Kind {
	case model.NotificationLessonPaid:
		return &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{
					{Text: "✅ Подтвердить", CallbackData: CallbackConfirm + id},
					{Text: "🚫 Отклонить", CallbackData: CallbackReject + id},
				},
			},
		}
	case model.NotificationRescheduleRequested:
		return &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{
					{Text: "✅ Согласовать", CallbackData: CallbackApproveResched + id},
					{Text: "❌ Отказать", CallbackData: CallbackRejectResched + id},
				},
			},
		}
	}
	return nil
}
