package models

import "time"

// Customer — клиент арендатора (подопечный тренера). Принадлежит ровно
// одному арендатору и недоступен из чужого контекста.
type Customer struct {
	ID        int64
	TenantUID string
	Name      string
	Email     string
	CreatedAt time.Time
}

// CustomerGroup — группа клиентов в рамках одного арендатора.
type CustomerGroup struct {
	ID        int64
	TenantUID string
	Name      string
	CreatedAt time.Time
}

// GroupMembership — членство клиента в группе, уникально по паре
// (клиент, группа). Ссылка на чужого клиента отклоняется при записи.
type GroupMembership struct {
	GroupID    int64
	CustomerID int64
	CreatedAt  time.Time
}

// DummyGroup используется для приёма запроса на создание группы из JSON.
type DummyGroup struct {
	Name string `json:"name" validate:"required"`
}

// DummyCustomer используется для приёма запроса на создание клиента из JSON.
type DummyCustomer struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// DummyMember используется для приёма запроса на добавление в группу из JSON.
type DummyMember struct {
	CustomerID int64 `json:"customer_id" validate:"required"`
}
