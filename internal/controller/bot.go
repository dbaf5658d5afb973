package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/formatting"
	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/notify"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

// Ошибки разбора callback
var errInvalidCallback = errors.New("invalid callback format")

const rejectedByTelegram = "Отклонено через Telegram"

// BotController binds Telegram commands and notification buttons to the lesson service.
// A Telegram user ID is the user ID of the lesson parties.
type BotController struct {
	bot     *bot.Bot
	lessons *service.LessonService
	quota   *service.QuotaTracker
	logger  *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	lessons *service.LessonService,
	quota *service.QuotaTracker,
	logger *zap.Logger,
) *BotController {
	return &BotController{
		bot:     botInstance,
		lessons: lessons,
		quota:   quota,
		logger:  logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.handleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.handleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/lessons", bot.MatchTypeExact, c.handleLessons)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/trials", bot.MatchTypeExact, c.handleTrials)

	// Кнопки из уведомлений
	for _, prefix := range []string{
		notify.CallbackConfirm,
		notify.CallbackReject,
		notify.CallbackApproveResched,
		notify.CallbackRejectResched,
	} {
		c.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, prefix, bot.MatchTypePrefix, c.handleCallback)
	}

	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "lessons", Description: "📅 Мои уроки"},
		{Command: "trials", Description: "🎁 Пробные уроки"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})
	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// Start запускает бота и блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
	return nil
}

func (c *BotController) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	text := "👋 Здесь приходят уведомления о ваших уроках.\n\n" +
		"Оплаченные уроки и запросы на перенос можно подтвердить прямо из уведомления.\n\n" +
		"/lessons — мои уроки\n/trials — пробные уроки"
	c.sendMessage(ctx, b, update.Message.Chat.ID, text)
}

func (c *BotController) handleLessons(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	text, err := c.LessonsText(ctx, update.Message.From.ID)
	if err != nil {
		c.logger.Error("Failed to list lessons", zap.Int64("telegram_id", update.Message.From.ID), zap.Error(err))
		text = "❌ Произошла ошибка. Попробуйте позже."
	}
	c.sendMessage(ctx, b, update.Message.Chat.ID, text)
}

func (c *BotController) handleTrials(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	usage, err := c.quota.Usage(ctx, update.Message.From.ID)
	if err != nil {
		c.logger.Error("Failed to get trial usage", zap.Int64("telegram_id", update.Message.From.ID), zap.Error(err))
		c.sendMessage(ctx, b, update.Message.Chat.ID, "❌ Произошла ошибка. Попробуйте позже.")
		return
	}
	total, _ := c.quota.Limits()
	left := total - usage.Total
	if left < 0 {
		left = 0
	}
	c.sendMessage(ctx, b, update.Message.Chat.ID,
		fmt.Sprintf("🎁 Использовано %d из %d. Осталось %d %s.", usage.Total, total, left, formatting.PluralizeTrials(left)))
}

func (c *BotController) handleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	c.logger.Info("Routing callback",
		zap.String("data", callback.Data),
		zap.Int64("user_id", callback.From.ID))

	reply, err := c.HandleDecision(ctx, callback.From.ID, callback.Data)
	if err != nil {
		b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callback.ID,
			Text:            DecisionErrorMessage(err),
			ShowAlert:       true,
		})
		return
	}

	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
		Text:            reply,
	})
	c.sendMessage(ctx, b, callback.From.ID, reply)
}

// HandleDecision applies the lesson decision encoded in a notification button.
func (c *BotController) HandleDecision(ctx context.Context, userID int64, data string) (string, error) {
	prefix, lessonID, err := parseCallback(data)
	if err != nil {
		return "", err
	}

	var lesson *model.Lesson
	switch prefix {
	case notify.CallbackConfirm:
		lesson, err = c.lessons.TutorConfirm(ctx, lessonID, userID)
	case notify.CallbackReject:
		lesson, err = c.lessons.TutorReject(ctx, lessonID, userID, rejectedByTelegram)
	case notify.CallbackApproveResched:
		lesson, err = c.lessons.ApproveReschedule(ctx, lessonID, userID)
	case notify.CallbackRejectResched:
		lesson, err = c.lessons.RejectReschedule(ctx, lessonID, userID)
	}
	if err != nil {
		c.logger.Warn("Lesson decision refused",
			zap.String("lesson_id", lessonID.String()),
			zap.Int64("user_id", userID),
			zap.String("action", prefix),
			zap.Error(err))
		return "", err
	}

	return fmt.Sprintf("%s\n%s", formatting.GetLessonStatusDisplay(lesson.Status),
		formatting.FormatLessonTime(lesson.StartAt, lesson.DurationMinutes, time.UTC)), nil
}

// LessonsText renders the user's upcoming and recent lessons.
func (c *BotController) LessonsText(ctx context.Context, userID int64) (string, error) {
	lessons, err := c.lessons.ListForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(lessons) == 0 {
		return "📭 У вас пока нет уроков.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 У вас %s:\n", formatting.CountLessons(len(lessons))))
	for _, l := range lessons {
		role := "ученик"
		if l.TutorID == userID {
			role = "преподаватель"
		}
		sb.WriteString(fmt.Sprintf("\n%s\n%s (%s)\n",
			formatting.FormatLessonTime(l.StartAt, l.DurationMinutes, time.UTC),
			formatting.GetLessonStatusDisplay(l.Status),
			role))
	}
	return sb.String(), nil
}

// DecisionErrorMessage возвращает пользовательское сообщение для ошибки
func DecisionErrorMessage(err error) string {
	switch {
	case errors.Is(err, errInvalidCallback):
		return "❌ Неверный формат данных"
	case errors.Is(err, service.ErrNotFound):
		return "❌ Урок не найден"
	case errors.Is(err, service.ErrForbidden):
		return "❌ Это действие вам недоступно"
	case errors.Is(err, service.ErrTooLate):
		return "⏰ Урок уже начался"
	case errors.Is(err, service.ErrSlotUnavailable):
		return "❌ Новое время уже занято"
	case errors.Is(err, service.ErrInvalidTransition):
		var te *service.TransitionError
		if errors.As(err, &te) {
			return fmt.Sprintf("ℹ️ Уже обработано: %s", formatting.GetLessonStatusDisplay(te.From))
		}
		return "ℹ️ Уже обработано"
	default:
		return "❌ Произошла ошибка"
	}
}

func parseCallback(data string) (string, uuid.UUID, error) {
	idx := strings.Index(data, ":")
	if idx < 0 {
		return "", uuid.Nil, errInvalidCallback
	}
	prefix := data[:idx+1]
	switch prefix {
	case notify.CallbackConfirm, notify.CallbackReject, notify.CallbackApproveResched, notify.CallbackRejectResched:
	default:
		return "", uuid.Nil, errInvalidCallback
	}
	id, err := uuid.Parse(data[idx+1:])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: %v", errInvalidCallback, err)
	}
	return prefix, id, nil
}

// sendMessage отправляет сообщение и логирует если не удалось
func (c *BotController) sendMessage(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		c.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}
