// Package processor исполняет задания на списание из очереди: вызывает
// платёжный шлюз и проводит определённый исход через журнал событий.
// Ключом идемпотентности у шлюза служит AttemptID задания, поэтому
// requeue после сбоя не задваивает списание.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
)

// Gateway — клиент платёжного шлюза.
type Gateway interface {
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest) (*paymentprovider.CreatePaymentResponse, error)
}

// Ingester проводит платёжное событие через журнал с дедупликацией.
type Ingester interface {
	Ingest(ctx context.Context, ev models.PaymentEvent) (*ledger.Result, error)
}

// Service — обработчик заданий на списание.
type Service struct {
	gateway Gateway
	ledger  Ingester
	billing config.Billing
	log     *slog.Logger
	now     func() time.Time
}

// New создает новый экземпляр Service.
func New(gateway Gateway, ledgerSvc Ingester, billing config.Billing, log *slog.Logger) *Service {
	return &Service{
		gateway: gateway,
		ledger:  ledgerSvc,
		billing: billing,
		log:     log,
		now:     time.Now,
	}
}

// HandleMessage разбирает задание из очереди и исполняет его. Возврат
// ошибки означает requeue, поэтому неоднозначный исход у шлюза ошибкой
// не считается: окончательный исход принесёт webhook.
func (s *Service) HandleMessage(body []byte) error {
	var job models.ChargeJob
	if err := json.Unmarshal(body, &job); err != nil {
		// Нечитаемое сообщение requeue не спасёт.
		s.log.Error("failed to decode charge job, dropping", sl.Err(err))
		return nil
	}
	return s.Process(context.Background(), job)
}

// Process выполняет списание по заданию.
func (s *Service) Process(ctx context.Context, job models.ChargeJob) error {
	const op = "services.processor.Process"

	log := s.log.With(sl.Tenant(job.TenantUID), slog.String("kind", job.Kind),
		slog.Int("attempt", job.Attempt))

	req := paymentprovider.CreatePaymentRequest{
		Description:    fmt.Sprintf("Scheduled %s charge", job.Kind),
		Capture:        true,
		IdempotenceKey: job.AttemptID,
		Metadata: map[string]string{
			"tenant_uid": job.TenantUID,
			"kind":       job.Kind,
			"attempt_id": job.AttemptID,
		},
	}
	if job.Attempt > 0 {
		req.Metadata["attempt"] = strconv.Itoa(job.Attempt)
	}
	req.Amount.Value = paymentprovider.FormatAmount(job.Amount)
	req.Amount.Currency = job.Currency

	resp, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		if errors.Is(err, paymentprovider.ErrAmbiguousOutcome) {
			// Списание могло пройти. Ничего не проводим: истину принесёт
			// webhook, а повторная отправка с тем же Idempotence-Key
			// не создаст второго списания.
			log.Warn("charge outcome ambiguous, awaiting webhook", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
		// Однозначный отказ шлюза без созданного платежа.
		return s.ingestOutcome(ctx, job, "charge:"+job.AttemptID, models.OutcomeFailed)
	}

	switch resp.Status {
	case paymentprovider.StatusSucceeded:
		return s.ingestOutcome(ctx, job, resp.ID, models.OutcomeSucceeded)
	case paymentprovider.StatusCanceled:
		return s.ingestOutcome(ctx, job, resp.ID, models.OutcomeFailed)
	default:
		// Платёж в обработке, окончательный исход придёт webhook-ом.
		log.Info("charge pending at gateway", slog.String("payment_id", resp.ID))
		return nil
	}
}

func (s *Service) ingestOutcome(ctx context.Context, job models.ChargeJob, externalID, outcome string) error {
	const op = "services.processor.ingestOutcome"

	ev := models.PaymentEvent{
		ExternalID: externalID,
		TenantUID:  job.TenantUID,
		Kind:       job.Kind,
		Outcome:    outcome,
		Terminal:   true,
		AttemptID:  job.AttemptID,
		Attempt:    job.Attempt,
		Amount:     job.Amount,
		Currency:   job.Currency,
		OccurredAt: s.now(),
	}
	if _, err := s.ledger.Ingest(ctx, ev); err != nil {
		if errors.Is(err, models.ErrConflictingPaymentOutcome) {
			// Окончательный исход уже записан с другой стороны.
			s.log.Warn("charge outcome conflicts with recorded one", sl.Err(err),
				sl.Tenant(job.TenantUID))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
