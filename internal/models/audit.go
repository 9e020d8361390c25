package models

import "time"

// Виды записей аудита.
const (
	AuditEventIngested   = "payment_event_ingested"
	AuditEventDuplicate  = "payment_event_duplicate"
	AuditEventConflict   = "payment_event_conflict"
	AuditTransition      = "billing_transition"
	AuditTierWrite       = "tier_write"
	AuditUsageBlocked    = "usage_blocked"
	AuditIsolationDenied = "isolation_denied"
)

// AuditEvent — запись контрольного журнала безопасности и биллинга.
// Журнал только пополняется, записи не изменяются и не удаляются.
type AuditEvent struct {
	ID          int64
	TenantUID   *string // nil для событий без установленного арендатора
	Kind        string
	Fingerprint string // Отпечаток внешнего события, если применимо
	Payload     string // Произвольные детали в JSON
	CreatedAt   time.Time
}
