package models

import "time"

// Виды платёжных событий: что именно оплачивалось.
const (
	PaymentKindInitial      = "initial"       // Первое списание новой подписки
	PaymentKindRecurring    = "recurring"     // Регулярное месячное списание
	PaymentKindRetry        = "retry"         // Повторная попытка после сбоя
	PaymentKindReactivation = "reactivation"  // Явная реактивация после отмены
	PaymentKindUpgrade      = "upgrade"       // Пропорциональная доплата за повышение
	PaymentKindTierPurchase = "tier_purchase" // Разовая покупка/повышение тарифа
)

// Исходы платёжного события.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Статусы строки журнала платежей. Строка создаётся в pending и ровно один
// раз переходит в completed или failed, когда связанный переход состояния
// надёжно записан.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// PaymentTransaction — строка журнала платежей, только добавление.
// Исправления — это новые строки, история amount/status не переписывается.
type PaymentTransaction struct {
	ID          int64
	TenantUID   string
	Fingerprint string // Хэш внешнего идентификатора события, не сырой токен
	AttemptID   string // Идентификатор попытки списания у шлюза
	Kind        string
	Outcome     string
	Amount      int64 // Минорные единицы
	Currency    string
	Status      string
	Terminal    bool // Шлюз пометил исход как окончательный для попытки
	CreatedAt   time.Time
}

// PaymentEvent — нормализованное событие платёжного шлюза, доставляемое
// минимум один раз и в произвольном порядке. ExternalID стабилен между
// повторными доставками одного и того же события.
type PaymentEvent struct {
	ExternalID string
	TenantUID  string
	Kind       string
	Outcome    string
	Terminal   bool
	AttemptID  string
	Attempt    int // Номер попытки для kind=retry, 1-3
	NewTier    int // Целевой уровень для kind=upgrade|tier_purchase
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

// ChargeJob — задание на списание, публикуемое планировщиком в очередь.
// AttemptID стабилен для задания: повторная публикация того же задания
// не создаёт второго списания у шлюза.
type ChargeJob struct {
	TenantUID string    `json:"tenant_uid"`
	Kind      string    `json:"kind"` // recurring или retry
	Attempt   int       `json:"attempt,omitempty"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	AttemptID string    `json:"attempt_id"`
	DueAt     time.Time `json:"due_at"`
}
