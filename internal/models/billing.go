package models

import "time"

// TierOwnership фиксирует разовую покупку тарифного уровня (1-3).
// Запись неизменяема после оплаты, кроме статуса; повышение уровня
// меняет TierLevel на той же записи и только в большую сторону.
type TierOwnership struct {
	TenantUID   string // Владелец записи
	TierLevel   int    // Уровень тарифа, 1-3
	PurchasedAt time.Time
	AmountPaid  int64 // Сумма покупки в минорных единицах
	Status      string
}

// Статусы владения тарифом.
const (
	OwnershipActive   = "active"
	OwnershipInactive = "inactive"
)

// Статусы подписки на дополнение (машина состояний биллинга).
const (
	StatusTrialing           = "trialing"
	StatusActive             = "active"
	StatusPastDue            = "past_due"
	StatusSuspended          = "suspended"
	StatusCanceled           = "canceled"
	StatusIncomplete         = "incomplete"
	StatusIncompleteExpired  = "incomplete_expired"
	StatusUnpaid             = "unpaid"
)

// EntitledStatuses перечисляет статусы, в которых подписка даёт свои возможности.
var EntitledStatuses = []string{StatusActive, StatusTrialing}

// IsEntitled сообщает, даёт ли статус подписки её возможности.
func IsEntitled(status string) bool {
	return status == StatusActive || status == StatusTrialing
}

// AddonSubscription представляет повторяющуюся подписку на дополнение
// (генерация ИИ) поверх разового тарифа. Отмена подписки никогда
// не затрагивает TierOwnership.
type AddonSubscription struct {
	TenantUID    string
	AddonTier    int        // Уровень дополнения, 1-3
	MonthlyPrice int64      // Месячная цена в минорных единицах
	UsageLimit   *int       // Месячная квота, nil = безлимит
	Status       string     // Статус машины состояний
	AnchorDate   time.Time  // Якорная дата биллингового цикла
	NextChargeAt time.Time  // Дата следующего списания
	PendingTier  *int       // Отложенное понижение, применяется на границе цикла
	SuspendedAt  *time.Time // Момент приостановки (выставляется вместе с отменой)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BillingSnapshot — согласованный срез биллингового состояния арендатора,
// из которого вычисляется набор возможностей. Читается одним запросом,
// при метрируемых проверках — под блокировкой строки арендатора.
type BillingSnapshot struct {
	TenantUID   string
	TierLevel   int    // 0, если тариф не куплен
	AddonTier   int    // 0, если подписки нет
	AddonStatus string // Пустая строка, если подписки нет
	AddonLimit  *int
	PendingTier *int
	AnchorDate  *time.Time
	Suspended   bool
}

// BillingRetry — запланированная попытка повторного списания после
// неуспешного регулярного платежа. Все попытки отсчитываются от
// исходного сбоя, не от предыдущей попытки.
type BillingRetry struct {
	ID                int64
	TenantUID         string
	Attempt           int // 1-3
	DueAt             time.Time
	Status            string // scheduled, dispatched, done, canceled
	OriginalFailureAt time.Time
	Amount            int64 // Сумма списания, заполняется при выдаче попытки
}

// Статусы запланированных повторных списаний.
const (
	RetryScheduled  = "scheduled"
	RetryDispatched = "dispatched"
	RetryDone       = "done"
	RetryCanceled   = "canceled"
)

// DummyTierChange используется для приёма запроса на смену уровня из JSON.
type DummyTierChange struct {
	NewTier int `json:"new_tier" validate:"required,min=1,max=3"`
}

// PendingDowngrade — подписка с отложенным понижением, чья граница цикла наступила.
type PendingDowngrade struct {
	TenantUID   string
	PendingTier int
}

// ChargeDue — регулярное списание, срок которого наступил. PendingTier
// не nil, если на этой границе цикла должно примениться отложенное
// понижение: списание публикуется уже по новой цене.
type ChargeDue struct {
	TenantUID    string
	Amount       int64
	AnchorDate   time.Time
	NextChargeAt time.Time
	PendingTier  *int
}
