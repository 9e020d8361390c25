package models

import "time"

// UsageCounter — счётчик использования функции, ключ (арендатор, функция,
// период). Счётчик монотонно растёт внутри периода; новый период создаёт
// новую строку, существующая никогда не обнуляется на месте.
type UsageCounter struct {
	TenantUID string
	Feature   Feature
	Period    string // Идентификатор календарного месяца, например "2025-02"
	Count     int
	Limit     *int // Снимок лимита на момент последней проверки, nil = безлимит
	UpdatedAt time.Time
}

// ConsumeOutcome — результат атомарной метрируемой проверки в хранилище.
type ConsumeOutcome struct {
	Entitled bool // Функция вообще доступна арендатору
	Allowed  bool // Инкремент прошёл под лимитом
	NewCount int  // Счётчик после (или текущий при отказе)
	Limit    *int // Лимит, применённый к решению; nil = безлимит
}
