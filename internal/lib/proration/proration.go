// Package proration считает денежную дельту при смене уровня подписки
// внутри биллингового цикла. Чистая функция без ввода-вывода: все суммы
// в минорных единицах валюты, итог округляется half-up.
package proration

// Prorate возвращает доплату за повышение цены с oldPrice до newPrice
// при daysRemaining оставшихся днях цикла длиной daysInCycle.
//
//	charge = (newPrice - oldPrice) * daysRemaining / daysInCycle
//
// Округление half-up выполняется только на финальном делении. Отрицательная
// дельта (понижение) прижимается к нулю: понижение не возвращает деньги,
// оно меняет цену следующего цикла.
func Prorate(oldPrice, newPrice int64, daysRemaining, daysInCycle int) int64 {
	if daysInCycle <= 0 || daysRemaining <= 0 {
		return 0
	}
	if daysRemaining > daysInCycle {
		daysRemaining = daysInCycle
	}
	delta := newPrice - oldPrice
	if delta <= 0 {
		return 0
	}
	numerator := delta * int64(daysRemaining)
	// half-up: прибавляем половину делителя до целочисленного деления
	return (numerator*2 + int64(daysInCycle)) / (2 * int64(daysInCycle))
}
