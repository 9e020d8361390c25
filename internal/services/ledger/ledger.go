// Package ledger принимает события платёжного шлюза с гарантией
// минимум-однократной доставки и превращает их в ровно-однократное
// применение к машине состояний биллинга. Дедупликация идёт по отпечатку
// внешнего идентификатора события; повтор — безопасный no-op.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Repository определяет методы журнала платежей и аудита.
type Repository interface {
	InsertPaymentTransaction(ctx context.Context, t models.PaymentTransaction) (bool, error)
	GetPaymentTransaction(ctx context.Context, fingerprint string) (*models.PaymentTransaction, error)
	FinalizePaymentTransaction(ctx context.Context, fingerprint, status string) (bool, error)
	HasConflictingOutcome(ctx context.Context, attemptID, outcome string) (bool, error)
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
}

// Applier применяет биллинговый переход, соответствующий событию.
// Переходы обязаны быть идемпотентными: повторное применение того же
// логического исхода не меняет состояние.
type Applier interface {
	Apply(ctx context.Context, ev models.PaymentEvent) error
}

// Service — журнал платёжных событий.
type Service struct {
	repo    Repository
	applier Applier
	log     *slog.Logger
}

// New создаёт Service.
func New(repo Repository, applier Applier, log *slog.Logger) *Service {
	return &Service{repo: repo, applier: applier, log: log}
}

// Fingerprint возвращает стабильный отпечаток внешнего идентификатора
// события. В журнале хранится хэш, а не сырой идентификатор шлюза.
func Fingerprint(externalID string) string {
	sum := sha256.Sum256([]byte(externalID))
	return hex.EncodeToString(sum[:])
}

// Result — итог приёма события.
type Result struct {
	Applied   bool `json:"applied"`
	Duplicate bool `json:"duplicate"`
}

// Ingest принимает событие шлюза. Повтор по отпечатку — no-op с успешным
// ответом, чтобы повторные доставки были безвредны. Строка журнала
// создаётся в pending и финализируется только после того, как переход
// состояния надёжно записан: упавший между этими шагами процесс будет
// дображен следующей доставкой того же события.
func (s *Service) Ingest(ctx context.Context, ev models.PaymentEvent) (*Result, error) {
	const op = "services.ledger.Ingest"

	fp := Fingerprint(ev.ExternalID)
	log := s.log.With(slog.String("op", op), sl.Tenant(ev.TenantUID),
		slog.String("kind", ev.Kind), slog.String("outcome", ev.Outcome))

	// Противоречивая пара исходов одной попытки: доверяем тому, что шлюз
	// пометил окончательным, второй никогда не применяем.
	if ev.AttemptID != "" {
		conflict, err := s.repo.HasConflictingOutcome(ctx, ev.AttemptID, ev.Outcome)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if conflict && !ev.Terminal {
			s.audit(ctx, ev, fp, models.AuditEventConflict)
			metrics.WebhookEvents.WithLabelValues("conflict").Inc()
			log.Warn("conflicting non-terminal outcome dropped",
				slog.String("attempt_id", ev.AttemptID))
			return nil, fmt.Errorf("%s: %w", op, models.ErrConflictingPaymentOutcome)
		}
	}

	inserted, err := s.repo.InsertPaymentTransaction(ctx, models.PaymentTransaction{
		TenantUID:   ev.TenantUID,
		Fingerprint: fp,
		AttemptID:   ev.AttemptID,
		Kind:        ev.Kind,
		Outcome:     ev.Outcome,
		Amount:      ev.Amount,
		Currency:    ev.Currency,
		Status:      models.TxPending,
		Terminal:    ev.Terminal,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !inserted {
		existing, err := s.repo.GetPaymentTransaction(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if existing.Status != models.TxPending {
			// Полностью обработанный повтор.
			s.audit(ctx, ev, fp, models.AuditEventDuplicate)
			metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
			log.Info("duplicate payment event ignored")
			return &Result{Applied: false, Duplicate: true}, nil
		}
		// Предыдущая доставка упала между записью журнала и переходом:
		// дображиваем применение на этой доставке.
		log.Warn("re-driving pending payment event")
	}

	if err := s.applier.Apply(ctx, ev); err != nil {
		// Строка остаётся в pending, следующая доставка повторит применение.
		metrics.WebhookEvents.WithLabelValues("apply_failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	final := models.TxCompleted
	if ev.Outcome == models.OutcomeFailed {
		final = models.TxFailed
	}
	if _, err := s.repo.FinalizePaymentTransaction(ctx, fp, final); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, ev, fp, models.AuditEventIngested)
	metrics.WebhookEvents.WithLabelValues("applied").Inc()
	log.Info("payment event applied")
	return &Result{Applied: true}, nil
}

// audit пишет запись контрольного журнала; сбой аудита не валит приём,
// но попадает в лог.
func (s *Service) audit(ctx context.Context, ev models.PaymentEvent, fp, kind string) {
	payload, _ := json.Marshal(map[string]any{
		"kind":       ev.Kind,
		"outcome":    ev.Outcome,
		"attempt_id": ev.AttemptID,
		"amount":     ev.Amount,
		"currency":   ev.Currency,
	})
	rec := models.AuditEvent{
		TenantUID:   &ev.TenantUID,
		Kind:        kind,
		Fingerprint: fp,
		Payload:     string(payload),
	}
	if err := s.repo.InsertAuditEvent(ctx, rec); err != nil {
		s.log.Error("failed to write audit record", sl.Err(err), sl.Tenant(ev.TenantUID))
	}
}
