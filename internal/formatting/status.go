package formatting

import "github.com/Freeeeeet/tutorbook/internal/model"

// StatusDisplay представляет отображение статуса
type StatusDisplay struct {
	Emoji string
	Text  string
}

func (d StatusDisplay) String() string {
	return d.Emoji + " " + d.Text
}

var lessonStatusDisplays = map[model.LessonStatus]StatusDisplay{
	model.LessonStatusPendingPayment:      {"💳", "Ожидает оплаты"},
	model.LessonStatusPaidAwaitingTutor:   {"⏳", "Ждёт подтверждения"},
	model.LessonStatusConfirmed:           {"✅", "Подтверждено"},
	model.LessonStatusRescheduleRequested: {"🔄", "Запрошен перенос"},
	model.LessonStatusCompleted:           {"✔️", "Завершено"},
	model.LessonStatusCancelled:           {"❌", "Отменено"},
	model.LessonStatusExpired:             {"⌛", "Истекло"},
}

// GetLessonStatusDisplay возвращает emoji и текст для статуса урока
func GetLessonStatusDisplay(status model.LessonStatus) StatusDisplay {
	if display, ok := lessonStatusDisplays[status]; ok {
		return display
	}
	return StatusDisplay{"❓", "Неизвестно"}
}
