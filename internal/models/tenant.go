// Package models содержит доменные структуры движка entitlement-ов:
// арендаторов (тренеров), владение тарифом, подписку на дополнение,
// счётчики использования и журнал платежей.
package models

import "time"

// Tenant представляет арендатора (тренера) — корень изоляции данных
// и единицу биллинга. Арендатор никогда не удаляется, только деактивируется.
type Tenant struct {
	UID          string    // Уникальный идентификатор арендатора
	Username     string    // Имя пользователя (уникальное)
	Email        string    // Электронная почта
	PasswordHash string    // Хэш пароля
	Role         string    // Роль, admin или tenant
	Status       string    // active или deactivated
	CreatedAt    time.Time // Дата регистрации
}

// Статусы арендатора.
const (
	TenantActive      = "active"
	TenantDeactivated = "deactivated"
)

// DummyRegister используется для приёма данных регистрации из JSON-запроса.
type DummyRegister struct {
	Username string `json:"username" validate:"required,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// DummyLogin используется для приёма данных входа из JSON-запроса.
type DummyLogin struct {
	Username string `json:"username" validate:"required,alphanum"`
	Password string `json:"password" validate:"required"`
}
