// Package scheduler находит наступившие списания и публикует задания
// в очередь. Выбор строк построен так, что несколько экземпляров
// планировщика не публикуют одно списание дважды: срок регулярного
// списания продвигается compare-and-update, попытки повтора забираются
// переводом scheduled -> dispatched.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/period"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/rabbitmq"
)

// Repository определяет выборку наступивших списаний.
type Repository interface {
	FindDueRecurring(ctx context.Context, asOf time.Time) ([]models.ChargeDue, error)
	AdvanceNextCharge(ctx context.Context, tenantUID string, from, to time.Time) (bool, error)
	AdvanceNextChargeWithDowngrade(ctx context.Context, tenantUID string, from, to time.Time, tier int, price int64, limit *int) (bool, error)
	ClaimDueRetries(ctx context.Context, asOf time.Time) ([]*models.BillingRetry, error)
}

// Rollover выполняет работу границы биллингового цикла.
type Rollover interface {
	CycleRollover(ctx context.Context, now time.Time) error
}

// Publisher публикует сообщение в обменник.
type Publisher func(ch *amqp.Channel, exchange, routingKey string, message any) error

// Service — планировщик списаний.
type Service struct {
	repo     Repository
	rollover Rollover
	billing  config.Billing
	log      *slog.Logger
	publish  Publisher
	now      func() time.Time
}

// New создает новый экземпляр Service.
func New(repo Repository, rollover Rollover, billing config.Billing, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		rollover: rollover,
		billing:  billing,
		log:      log,
		publish:  rabbitmq.PublishMessage,
		now:      time.Now,
	}
}

// Run гоняет цикл планирования с интервалом из конфига до отмены контекста.
func (s *Service) Run(ctx context.Context, channel *amqp.Channel) {
	s.runOnce(ctx, channel)

	ticker := time.NewTicker(s.billing.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, channel)
		}
	}
}

func (s *Service) runOnce(ctx context.Context, channel *amqp.Channel) {
	now := s.now()
	// Работа границы цикла идёт до публикации списаний: отложенное понижение
	// должно примениться раньше, чем продвинется next_charge_at, иначе
	// граница пройдёт по старой цене, а понижение не увидит её никогда.
	if err := s.rollover.CycleRollover(ctx, now); err != nil {
		s.log.Error("cycle rollover failed", sl.Err(err))
	}
	if err := s.DispatchRecurring(ctx, channel, now); err != nil {
		s.log.Error("failed to dispatch recurring charges", sl.Err(err))
	}
	if err := s.DispatchRetries(ctx, channel, now); err != nil {
		s.log.Error("failed to dispatch retry charges", sl.Err(err))
	}
}

// DispatchRecurring публикует задания на регулярные списания, чей срок
// наступил. Задание публикуется только после того, как этот экземпляр
// выиграл compare-and-update на next_charge_at.
func (s *Service) DispatchRecurring(ctx context.Context, channel *amqp.Channel, now time.Time) error {
	const op = "services.scheduler.DispatchRecurring"

	due, err := s.repo.FindDueRecurring(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, c := range due {
		next := period.CycleEnd(c.AnchorDate, c.NextChargeAt)
		amount := c.Amount
		var won bool
		if c.PendingTier != nil {
			// Отложенное понижение, досюда не применённое rollover'ом,
			// применяется тем же compare-and-update, что продвигает срок:
			// списание границы уходит уже по новой цене.
			tier, ok := s.billing.AddonTierByLevel(*c.PendingTier)
			if !ok {
				s.log.Error("pending downgrade to unknown tier, dispatch skipped",
					sl.Tenant(c.TenantUID), slog.Int("tier", *c.PendingTier))
				continue
			}
			amount = tier.MonthlyPrice
			won, err = s.repo.AdvanceNextChargeWithDowngrade(ctx, c.TenantUID,
				c.NextChargeAt, next, tier.Level, tier.MonthlyPrice, s.billing.AddonLimit(tier.Level))
		} else {
			won, err = s.repo.AdvanceNextCharge(ctx, c.TenantUID, c.NextChargeAt, next)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !won {
			// Конкурирующий планировщик уже забрал это списание.
			continue
		}
		job := models.ChargeJob{
			TenantUID: c.TenantUID,
			Kind:      models.PaymentKindRecurring,
			Amount:    amount,
			Currency:  s.billing.Currency,
			AttemptID: fmt.Sprintf("recurring:%s:%d", c.TenantUID, c.NextChargeAt.Unix()),
			DueAt:     c.NextChargeAt,
		}
		if err := s.publish(channel, rabbitmq.BillingExchange, rabbitmq.ChargeRoutingKey, job); err != nil {
			// Срок уже продвинут: потерянное сообщение догонит следующее
			// списание, а не задвоит это.
			s.log.Error("failed to publish charge job", sl.Err(err), sl.Tenant(c.TenantUID))
			continue
		}
		s.log.Info("recurring charge dispatched", sl.Tenant(c.TenantUID),
			slog.Int64("amount", amount))
	}
	return nil
}

// DispatchRetries публикует задания на повторные списания просроченных
// подписок.
func (s *Service) DispatchRetries(ctx context.Context, channel *amqp.Channel, now time.Time) error {
	const op = "services.scheduler.DispatchRetries"

	retries, err := s.repo.ClaimDueRetries(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, r := range retries {
		job := models.ChargeJob{
			TenantUID: r.TenantUID,
			Kind:      models.PaymentKindRetry,
			Attempt:   r.Attempt,
			Amount:    r.Amount,
			Currency:  s.billing.Currency,
			AttemptID: fmt.Sprintf("retry:%s:%d:%d", r.TenantUID, r.OriginalFailureAt.Unix(), r.Attempt),
			DueAt:     r.DueAt,
		}
		if err := s.publish(channel, rabbitmq.BillingExchange, rabbitmq.ChargeRoutingKey, job); err != nil {
			s.log.Error("failed to publish retry job", sl.Err(err), sl.Tenant(r.TenantUID))
			continue
		}
		s.log.Info("retry charge dispatched", sl.Tenant(r.TenantUID),
			slog.Int("attempt", r.Attempt))
	}
	return nil
}
