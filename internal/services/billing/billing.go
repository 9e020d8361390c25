// Package billing реализует машину состояний подписки на дополнение.
// Переходы идемпотентны: повторное применение одного логического исхода
// не меняет состояние, поэтому дубликаты и перестановка доставок безвредны.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/period"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Repository определяет переходы машины состояний в хранилище. Каждый метод
// возвращает true, только если строка действительно была в допустимом
// исходном состоянии, что и делает переходы идемпотентными.
type Repository interface {
	CreateAddonSubscription(ctx context.Context, sub models.AddonSubscription) (bool, error)
	ActivateIncomplete(ctx context.Context, tenantUID string) (bool, error)
	MarkPastDueWithRetries(ctx context.Context, tenantUID string, failureAt time.Time, offsetsDays []int) (bool, error)
	RecoverPastDue(ctx context.Context, tenantUID string) (bool, error)
	SuspendAndCancel(ctx context.Context, tenantUID string, at time.Time) (bool, error)
	ReactivateAddon(ctx context.Context, tenantUID string, anchor, nextCharge time.Time) (bool, error)
	UpgradeAddon(ctx context.Context, tenantUID string, tier int, price int64, limit *int) (bool, error)
	ApplyPendingDowngrade(ctx context.Context, tenantUID string, tier int, price int64, limit *int) (bool, error)
	UpsertTierOwnership(ctx context.Context, tenantUID string, level int, amount int64, at time.Time) error
	FindPendingDowngrades(ctx context.Context, asOf time.Time) ([]models.PendingDowngrade, error)
	ExpireIncomplete(ctx context.Context, olderThan time.Time) ([]string, error)
	CompleteRetry(ctx context.Context, tenantUID string, attempt int) error
	CancelPendingRetries(ctx context.Context, tenantUID string) error
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
}

// Invalidator сбрасывает закешированный набор возможностей арендатора.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantUID string)
}

// Service — машина состояний биллинга.
type Service struct {
	repo    Repository
	caps    Invalidator
	billing config.Billing
	log     *slog.Logger
}

// New создаёт Service.
func New(repo Repository, caps Invalidator, billing config.Billing, log *slog.Logger) *Service {
	return &Service{repo: repo, caps: caps, billing: billing, log: log}
}

// Apply применяет переход, соответствующий платёжному событию. Событие
// с исходом, не меняющим состояние (повтор, событие для уже ушедшего
// дальше состояния), — успешный no-op.
func (s *Service) Apply(ctx context.Context, ev models.PaymentEvent) error {
	const op = "services.billing.Apply"

	switch ev.Kind {
	case models.PaymentKindInitial:
		return s.applyInitial(ctx, op, ev)
	case models.PaymentKindRecurring:
		return s.applyRecurring(ctx, op, ev)
	case models.PaymentKindRetry:
		return s.applyRetry(ctx, op, ev)
	case models.PaymentKindReactivation:
		return s.applyReactivation(ctx, op, ev)
	case models.PaymentKindUpgrade:
		return s.applyUpgrade(ctx, op, ev)
	case models.PaymentKindTierPurchase:
		return s.applyTierPurchase(ctx, op, ev)
	default:
		return fmt.Errorf("%s: kind %q: %w", op, ev.Kind, models.ErrInvalidTransition)
	}
}

func (s *Service) applyInitial(ctx context.Context, op string, ev models.PaymentEvent) error {
	if ev.Outcome != models.OutcomeSucceeded {
		// Первое списание не прошло: подписка остаётся в incomplete и
		// истечёт по окну, новых попыток движок не планирует.
		s.log.Info("initial charge failed, subscription stays incomplete", sl.Tenant(ev.TenantUID))
		return nil
	}
	moved, err := s.repo.ActivateIncomplete(ctx, ev.TenantUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if moved {
		s.transitioned(ctx, ev.TenantUID, models.StatusActive, ev)
	}
	return nil
}

func (s *Service) applyRecurring(ctx context.Context, op string, ev models.PaymentEvent) error {
	if ev.Outcome == models.OutcomeSucceeded {
		// Успех закрывает и обычный цикл, и просрочку, если она была.
		moved, err := s.repo.RecoverPastDue(ctx, ev.TenantUID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.repo.CancelPendingRetries(ctx, ev.TenantUID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if moved {
			s.transitioned(ctx, ev.TenantUID, models.StatusActive, ev)
		}
		return nil
	}

	// Переход и расписание попыток записываются одной транзакцией: просрочки
	// без запланированных попыток не существует, а повторная доставка сбоя
	// после уже случившейся просрочки расписание не сдвигает — все попытки
	// считаются от исходного сбоя.
	moved, err := s.repo.MarkPastDueWithRetries(ctx, ev.TenantUID, ev.OccurredAt, s.billing.RetryOffsetsDays)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !moved {
		return nil
	}
	s.transitioned(ctx, ev.TenantUID, models.StatusPastDue, ev)
	return nil
}

func (s *Service) applyRetry(ctx context.Context, op string, ev models.PaymentEvent) error {
	if err := s.repo.CompleteRetry(ctx, ev.TenantUID, ev.Attempt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if ev.Outcome == models.OutcomeSucceeded {
		moved, err := s.repo.RecoverPastDue(ctx, ev.TenantUID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.repo.CancelPendingRetries(ctx, ev.TenantUID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if moved {
			s.transitioned(ctx, ev.TenantUID, models.StatusActive, ev)
		}
		return nil
	}

	if ev.Attempt < len(s.billing.RetryOffsetsDays) {
		// Остались запланированные попытки, состояние не меняется.
		return nil
	}

	// Третий сбой: подписка приостанавливается и отменяется одновременно.
	moved, err := s.repo.SuspendAndCancel(ctx, ev.TenantUID, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.CancelPendingRetries(ctx, ev.TenantUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if moved {
		s.transitioned(ctx, ev.TenantUID, models.StatusCanceled, ev)
	}
	return nil
}

func (s *Service) applyReactivation(ctx context.Context, op string, ev models.PaymentEvent) error {
	if ev.Outcome != models.OutcomeSucceeded {
		return nil
	}
	// Реактивация начинает новый цикл от момента оплаты, старый якорь
	// не восстанавливается.
	anchor := ev.OccurredAt
	moved, err := s.repo.ReactivateAddon(ctx, ev.TenantUID, anchor, period.CycleEnd(anchor, anchor))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if moved {
		s.transitioned(ctx, ev.TenantUID, models.StatusActive, ev)
	}
	return nil
}

func (s *Service) applyUpgrade(ctx context.Context, op string, ev models.PaymentEvent) error {
	if ev.Outcome != models.OutcomeSucceeded {
		return nil
	}
	tier, ok := s.billing.AddonTierByLevel(ev.NewTier)
	if !ok {
		return fmt.Errorf("%s: unknown addon tier %d: %w", op, ev.NewTier, models.ErrInvalidTransition)
	}
	moved, err := s.repo.UpgradeAddon(ctx, ev.TenantUID, tier.Level, tier.MonthlyPrice, s.billing.AddonLimit(tier.Level))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if moved {
		s.transitioned(ctx, ev.TenantUID, models.StatusActive, ev)
	}
	return nil
}

func (s *Service) applyTierPurchase(ctx context.Context, op string, ev models.PaymentEvent) error {
	if ev.Outcome != models.OutcomeSucceeded {
		return nil
	}
	if _, ok := s.billing.TierPrice(ev.NewTier); !ok {
		return fmt.Errorf("%s: unknown tier level %d: %w", op, ev.NewTier, models.ErrInvalidTransition)
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.repo.UpsertTierOwnership(ctx, ev.TenantUID, ev.NewTier, ev.Amount, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.caps.Invalidate(ctx, ev.TenantUID)
	s.audit(ctx, ev.TenantUID, models.AuditTierWrite, map[string]any{
		"tier": ev.NewTier, "amount": ev.Amount,
	})
	return nil
}

// Subscribe создаёт подписку на дополнение в состоянии incomplete. Права
// она не даёт, пока первое списание не подтвердится событием initial.
func (s *Service) Subscribe(ctx context.Context, tenantUID string, level int, now time.Time) (*models.AddonSubscription, error) {
	const op = "services.billing.Subscribe"

	tier, ok := s.billing.AddonTierByLevel(level)
	if !ok {
		return nil, fmt.Errorf("%s: unknown addon tier %d: %w", op, level, models.ErrInvalidTransition)
	}
	sub := models.AddonSubscription{
		TenantUID:    tenantUID,
		AddonTier:    tier.Level,
		Status:       models.StatusIncomplete,
		MonthlyPrice: tier.MonthlyPrice,
		UsageLimit:   s.billing.AddonLimit(tier.Level),
		AnchorDate:   now,
		NextChargeAt: period.CycleEnd(now, now),
	}
	created, err := s.repo.CreateAddonSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		return nil, fmt.Errorf("%s: subscription already exists: %w", op, models.ErrInvalidTransition)
	}
	s.audit(ctx, tenantUID, models.AuditTransition, map[string]any{
		"to": models.StatusIncomplete, "tier": level,
	})
	return &sub, nil
}

// CycleRollover выполняет работу границы цикла: применяет отложенные
// понижения, чей срок наступил, и переводит не оплаченные в отведённое
// окно подписки в incomplete_expired. Вызывается планировщиком; повторный
// вызов за тот же момент ничего не меняет.
func (s *Service) CycleRollover(ctx context.Context, now time.Time) error {
	const op = "services.billing.CycleRollover"

	downgrades, err := s.repo.FindPendingDowngrades(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, d := range downgrades {
		tier, ok := s.billing.AddonTierByLevel(d.PendingTier)
		if !ok {
			s.log.Error("pending downgrade to unknown tier skipped",
				sl.Tenant(d.TenantUID), slog.Int("tier", d.PendingTier))
			continue
		}
		moved, err := s.repo.ApplyPendingDowngrade(ctx, d.TenantUID, tier.Level,
			tier.MonthlyPrice, s.billing.AddonLimit(tier.Level))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if moved {
			s.caps.Invalidate(ctx, d.TenantUID)
			metrics.BillingTransitions.WithLabelValues("downgraded").Inc()
			s.audit(ctx, d.TenantUID, models.AuditTransition, map[string]any{
				"to": models.StatusActive, "downgraded_tier": tier.Level,
			})
		}
	}

	expired, err := s.repo.ExpireIncomplete(ctx, now.Add(-s.billing.IncompleteWindow))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, uid := range expired {
		s.caps.Invalidate(ctx, uid)
		metrics.BillingTransitions.WithLabelValues(models.StatusIncompleteExpired).Inc()
		s.audit(ctx, uid, models.AuditTransition, map[string]any{
			"to": models.StatusIncompleteExpired,
		})
	}
	if len(downgrades) > 0 || len(expired) > 0 {
		s.log.Info("cycle rollover finished",
			slog.Int("downgrades", len(downgrades)), slog.Int("expired", len(expired)))
	}
	return nil
}

// transitioned фиксирует применённый переход: сброс кеша возможностей,
// метрика и запись аудита.
func (s *Service) transitioned(ctx context.Context, tenantUID, to string, ev models.PaymentEvent) {
	s.caps.Invalidate(ctx, tenantUID)
	metrics.BillingTransitions.WithLabelValues(to).Inc()
	s.audit(ctx, tenantUID, models.AuditTransition, map[string]any{
		"to": to, "kind": ev.Kind, "outcome": ev.Outcome, "attempt": ev.Attempt,
	})
	s.log.Info("billing transition applied", sl.Tenant(tenantUID),
		slog.String("to", to), slog.String("kind", ev.Kind))
}

func (s *Service) audit(ctx context.Context, tenantUID, kind string, details map[string]any) {
	payload, _ := json.Marshal(details)
	rec := models.AuditEvent{TenantUID: &tenantUID, Kind: kind, Payload: string(payload)}
	if err := s.repo.InsertAuditEvent(ctx, rec); err != nil {
		s.log.Error("failed to write audit record", sl.Err(err), sl.Tenant(tenantUID))
	}
}
