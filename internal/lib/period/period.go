// Package period содержит календарную арифметику биллинговых циклов:
// ключи месячных периодов для счётчиков использования и границы цикла,
// привязанного к якорной дате подписки.
package period

import "time"

// Key возвращает идентификатор месячного периода для момента t, например "2025-02".
func Key(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// clampDay возвращает день day в пределах месяца (year, month):
// якорь 31-го числа в феврале даёт 28-е или 29-е.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

// CycleStart возвращает начало текущего биллингового цикла для якоря anchor
// на момент now: ближайшая якорная дата, не позднее now.
func CycleStart(anchor, now time.Time) time.Time {
	now = now.UTC()
	year, month, _ := now.Date()
	day := clampDay(year, month, anchor.UTC().Day())
	start := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if start.After(now) {
		prev := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		day = clampDay(prev.Year(), prev.Month(), anchor.UTC().Day())
		start = time.Date(prev.Year(), prev.Month(), day, 0, 0, 0, 0, time.UTC)
	}
	return start
}

// CycleEnd возвращает границу текущего цикла — якорную дату следующего месяца.
func CycleEnd(anchor, now time.Time) time.Time {
	start := CycleStart(anchor, now)
	// Шаг от первого числа, чтобы 31 января не «перепрыгнуло» февраль
	// при нормализации AddDate.
	next := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	day := clampDay(next.Year(), next.Month(), anchor.UTC().Day())
	return time.Date(next.Year(), next.Month(), day, 0, 0, 0, 0, time.UTC)
}

// DaysInCycle возвращает длину текущего цикла в днях — число календарных
// дней месяца, содержащего начало цикла, а не фиксированные 30.
func DaysInCycle(anchor, now time.Time) int {
	start := CycleStart(anchor, now)
	return int(CycleEnd(anchor, now).Sub(start).Hours() / 24)
}

// DaysRemaining возвращает число дней до границы цикла. В сам якорный день
// остаток равен полной длине цикла.
func DaysRemaining(anchor, now time.Time) int {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	remaining := int(CycleEnd(anchor, now).Sub(today).Hours() / 24)
	if remaining < 0 {
		return 0
	}
	return remaining
}
