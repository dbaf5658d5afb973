package formatting

import (
	"fmt"
	"time"
)

// FormatDateTime форматирует момент в зоне loc (UTC, если зона не задана)
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// FormatLessonTime форматирует начало урока с днём недели и длительностью
func FormatLessonTime(start time.Time, durationMinutes int, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)
	return fmt.Sprintf("%s, %s (%s, %s)",
		GetWeekdayShortName(int(local.Weekday())),
		local.Format("02.01.2006 15:04"),
		FormatDuration(durationMinutes),
		loc.String(),
	)
}

// FormatDuration форматирует длительность в минутах
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d мин", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d ч %d мин", hours, mins)
}

var weekdayShortNames = []string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}

// GetWeekdayShortName возвращает краткое название дня недели (0 = воскресенье)
func GetWeekdayShortName(weekday int) string {
	if weekday >= 0 && weekday < len(weekdayShortNames) {
		return weekdayShortNames[weekday]
	}
	return "?"
}
