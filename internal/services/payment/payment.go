// Package payment содержит платёжные операции, инициируемые арендатором:
// покупку тарифа, подписку на дополнение, повышение с пропорциональной
// доплатой, отложенное понижение и реактивацию. Каждое успешное списание
// проводится через журнал событий тем же путём, что и webhook, поэтому
// последующая доставка webhook-а того же платежа — безвредный дубликат.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/period"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/proration"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
)

// Repository определяет чтение биллингового состояния и отложенные понижения.
type Repository interface {
	GetBillingSnapshot(ctx context.Context, tenantUID string) (*models.BillingSnapshot, error)
	GetTierOwnership(ctx context.Context, tenantUID string) (*models.TierOwnership, error)
	SetPendingDowngrade(ctx context.Context, tenantUID string, tier int) (bool, error)
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
}

// Gateway — клиент платёжного шлюза.
type Gateway interface {
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest) (*paymentprovider.CreatePaymentResponse, error)
}

// Ingester проводит платёжное событие через журнал с дедупликацией.
type Ingester interface {
	Ingest(ctx context.Context, ev models.PaymentEvent) (*ledger.Result, error)
}

// Subscriber создаёт подписку на дополнение в состоянии incomplete.
type Subscriber interface {
	Subscribe(ctx context.Context, tenantUID string, level int, now time.Time) (*models.AddonSubscription, error)
}

// Service — платёжные операции арендатора.
type Service struct {
	repo    Repository
	gateway Gateway
	ledger  Ingester
	subs    Subscriber
	billing config.Billing
	log     *slog.Logger
	now     func() time.Time
}

// New создаёт Service.
func New(repo Repository, gateway Gateway, ledger Ingester, subs Subscriber, billing config.Billing, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		ledger:  ledger,
		subs:    subs,
		billing: billing,
		log:     log,
		now:     time.Now,
	}
}

// ChangeQuote — расчёт стоимости смены уровня до подтверждения.
type ChangeQuote struct {
	CurrentTier   int   `json:"current_tier"`
	NewTier       int   `json:"new_tier"`
	Amount        int64 `json:"amount"`         // Минорные единицы, 0 для понижения
	DaysRemaining int   `json:"days_remaining"` // До границы цикла
	Deferred      bool  `json:"deferred"`       // Понижение применится на границе цикла
}

// QuoteTierChange считает доплату за смену уровня дополнения: повышение —
// пропорциональная разница цен за остаток цикла, понижение — бесплатно
// и отложено до границы цикла.
func (s *Service) QuoteTierChange(ctx context.Context, tenantUID string, newTier int) (*ChangeQuote, error) {
	const op = "services.payment.QuoteTierChange"

	snap, err := s.repo.GetBillingSnapshot(ctx, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if snap.AddonTier == 0 || !models.IsEntitled(snap.AddonStatus) {
		return nil, fmt.Errorf("%s: no entitled subscription: %w", op, models.ErrInvalidTransition)
	}
	if newTier == snap.AddonTier {
		return nil, fmt.Errorf("%s: already on tier %d: %w", op, newTier, models.ErrInvalidTransition)
	}
	current, ok := s.billing.AddonTierByLevel(snap.AddonTier)
	if !ok {
		return nil, fmt.Errorf("%s: unknown current tier %d: %w", op, snap.AddonTier, models.ErrInvalidTransition)
	}
	target, ok := s.billing.AddonTierByLevel(newTier)
	if !ok {
		return nil, fmt.Errorf("%s: unknown addon tier %d: %w", op, newTier, models.ErrInvalidTransition)
	}
	if snap.AnchorDate == nil {
		return nil, fmt.Errorf("%s: subscription has no anchor date: %w", op, models.ErrInvalidTransition)
	}

	now := s.now()
	quote := &ChangeQuote{
		CurrentTier:   snap.AddonTier,
		NewTier:       newTier,
		DaysRemaining: period.DaysRemaining(*snap.AnchorDate, now),
	}
	if newTier < snap.AddonTier {
		quote.Deferred = true
		return quote, nil
	}
	quote.Amount = proration.Prorate(current.MonthlyPrice, target.MonthlyPrice,
		quote.DaysRemaining, period.DaysInCycle(*snap.AnchorDate, now))
	return quote, nil
}

// Upgrade повышает уровень дополнения немедленно: считает пропорциональную
// доплату, списывает её и проводит успех через журнал. Якорная дата цикла
// не меняется.
func (s *Service) Upgrade(ctx context.Context, tenantUID string, newTier int) (*ChangeQuote, error) {
	const op = "services.payment.Upgrade"

	quote, err := s.QuoteTierChange(ctx, tenantUID, newTier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if quote.Deferred {
		return nil, fmt.Errorf("%s: tier %d is a downgrade: %w", op, newTier, models.ErrInvalidTransition)
	}

	ev, err := s.charge(ctx, tenantUID, quote.Amount, models.PaymentKindUpgrade,
		fmt.Sprintf("Addon upgrade to tier %d, prorated", newTier),
		map[string]string{"new_tier": strconv.Itoa(newTier)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ev.NewTier = newTier
	if _, err := s.ledger.Ingest(ctx, *ev); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return quote, nil
}

// Downgrade записывает отложенное понижение: возможности и цена текущего
// уровня сохраняются до границы цикла, денег операция не движет.
func (s *Service) Downgrade(ctx context.Context, tenantUID string, newTier int) (*ChangeQuote, error) {
	const op = "services.payment.Downgrade"

	quote, err := s.QuoteTierChange(ctx, tenantUID, newTier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !quote.Deferred {
		return nil, fmt.Errorf("%s: tier %d is not a downgrade: %w", op, newTier, models.ErrInvalidTransition)
	}
	set, err := s.repo.SetPendingDowngrade(ctx, tenantUID, newTier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !set {
		return nil, fmt.Errorf("%s: subscription is not active: %w", op, models.ErrInvalidTransition)
	}
	s.log.Info("downgrade deferred to cycle boundary", sl.Tenant(tenantUID),
		slog.Int("new_tier", newTier))
	return quote, nil
}

// Reactivate списывает полную месячную цену уровня и, при успехе, начинает
// новый цикл от момента оплаты. Разрешена только из canceled.
func (s *Service) Reactivate(ctx context.Context, tenantUID string) error {
	const op = "services.payment.Reactivate"

	snap, err := s.repo.GetBillingSnapshot(ctx, tenantUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if snap.AddonStatus != models.StatusCanceled {
		return fmt.Errorf("%s: subscription is not canceled: %w", op, models.ErrInvalidTransition)
	}
	tier, ok := s.billing.AddonTierByLevel(snap.AddonTier)
	if !ok {
		return fmt.Errorf("%s: unknown addon tier %d: %w", op, snap.AddonTier, models.ErrInvalidTransition)
	}

	ev, err := s.charge(ctx, tenantUID, tier.MonthlyPrice, models.PaymentKindReactivation,
		fmt.Sprintf("Addon reactivation, tier %d", tier.Level), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.ledger.Ingest(ctx, *ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PurchaseTier продаёт разовый тариф. Повышение уровня стоит разницу полных
// цен без пропорций: тариф бессрочный, пропорция тут не имеет смысла.
// Покупка более низкого уровня, чем уже есть, отклоняется.
func (s *Service) PurchaseTier(ctx context.Context, tenantUID string, level int) error {
	const op = "services.payment.PurchaseTier"

	price, ok := s.billing.TierPrice(level)
	if !ok {
		return fmt.Errorf("%s: unknown tier level %d: %w", op, level, models.ErrInvalidTransition)
	}

	owned, err := s.repo.GetTierOwnership(ctx, tenantUID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	amount := price
	if owned != nil {
		if level <= owned.TierLevel {
			return fmt.Errorf("%s: tier %d already owned: %w", op, owned.TierLevel, models.ErrInvalidTransition)
		}
		ownedPrice, _ := s.billing.TierPrice(owned.TierLevel)
		amount = price - ownedPrice
	}

	ev, err := s.charge(ctx, tenantUID, amount, models.PaymentKindTierPurchase,
		fmt.Sprintf("One-time tier %d purchase", level),
		map[string]string{"new_tier": strconv.Itoa(level)})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ev.NewTier = level
	if _, err := s.ledger.Ingest(ctx, *ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SubscribeAddon создаёт подписку в incomplete и сразу пытается первое
// списание. Права появятся только после применения события initial.
func (s *Service) SubscribeAddon(ctx context.Context, tenantUID string, level int) (*models.AddonSubscription, error) {
	const op = "services.payment.SubscribeAddon"

	sub, err := s.subs.Subscribe(ctx, tenantUID, level, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ev, err := s.charge(ctx, tenantUID, sub.MonthlyPrice, models.PaymentKindInitial,
		fmt.Sprintf("Addon subscription, tier %d, first charge", level), nil)
	if err != nil {
		// Подписка остаётся в incomplete и истечёт по окну, если оплата
		// так и не придёт webhook-ом.
		s.log.Warn("initial charge not confirmed synchronously", sl.Err(err), sl.Tenant(tenantUID))
		return sub, nil
	}
	if _, err := s.ledger.Ingest(ctx, *ev); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub.Status = models.StatusActive
	return sub, nil
}

// charge выполняет синхронное списание. Успешный синхронный ответ
// превращается в платёжное событие с внешним идентификатором платежа:
// последующий webhook того же платежа дедуплицируется журналом.
func (s *Service) charge(ctx context.Context, tenantUID string, amount int64, kind, description string, meta map[string]string) (*models.PaymentEvent, error) {
	req := paymentprovider.CreatePaymentRequest{
		Description:    description,
		Capture:        true,
		IdempotenceKey: uuid.NewString(),
		Metadata: map[string]string{
			"tenant_uid": tenantUID,
			"kind":       kind,
		},
	}
	req.Metadata["attempt_id"] = req.IdempotenceKey
	for k, v := range meta {
		req.Metadata[k] = v
	}
	req.Amount.Value = paymentprovider.FormatAmount(amount)
	req.Amount.Currency = s.billing.Currency

	resp, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("gateway charge: %w", err)
	}
	if resp.Status != paymentprovider.StatusSucceeded {
		return nil, fmt.Errorf("gateway charge not confirmed: status %q", resp.Status)
	}

	return &models.PaymentEvent{
		ExternalID: resp.ID,
		TenantUID:  tenantUID,
		Kind:       kind,
		Outcome:    models.OutcomeSucceeded,
		Terminal:   true,
		AttemptID:  req.IdempotenceKey,
		Amount:     amount,
		Currency:   s.billing.Currency,
		OccurredAt: s.now(),
	}, nil
}

