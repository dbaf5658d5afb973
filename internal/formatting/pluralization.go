package formatting

import "fmt"

// pluralize выбирает форму слова по правилам русского языка
func pluralize(count int, one, few, many string) string {
	n := count
	if n < 0 {
		n = -n
	}
	if n%10 == 1 && n%100 != 11 {
		return one
	}
	if n%10 >= 2 && n%10 <= 4 && (n%100 < 10 || n%100 >= 20) {
		return few
	}
	return many
}

// PluralizeLessons возвращает правильное склонение слова "урок"
func PluralizeLessons(count int) string {
	return pluralize(count, "урок", "урока", "уроков")
}

// PluralizeTrials возвращает правильное склонение слова "пробный урок"
func PluralizeTrials(count int) string {
	return pluralize(count, "пробный урок", "пробных урока", "пробных уроков")
}

// CountLessons форматирует "N уроков"
func CountLessons(count int) string {
	return fmt.Sprintf("%d %s", count, PluralizeLessons(count))
}
