// Package entitlement реализует бизнес-логику разрешения возможностей:
// чтение набора возможностей с кешированием и метрируемые проверки
// с атомарным потреблением квоты.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/entitlement"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/period"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Repository определяет методы хранилища, нужные для разрешения возможностей.
type Repository interface {
	// GetBillingSnapshot возвращает биллинговый срез арендатора без блокировок.
	GetBillingSnapshot(ctx context.Context, tenantUID string) (*models.BillingSnapshot, error)
	// ConsumeMetered атомарно потребляет метрируемую функцию в одной транзакции.
	ConsumeMetered(ctx context.Context, tenantUID, feature, periodKey string, amount int,
		resolveLimit func(models.BillingSnapshot) (*int, bool)) (*models.ConsumeOutcome, error)
	// InsertAuditEvent добавляет запись контрольного журнала.
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
}

// Cache описывает методы кеширования наборов возможностей.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Service — резолвер возможностей.
type Service struct {
	repo    Repository
	cache   Cache
	billing config.Billing
	log     *slog.Logger
	now     func() time.Time
}

// New создаёт Service с биллинговым расписанием из конфига.
func New(repo Repository, cache Cache, billing config.Billing, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		billing: billing,
		log:     log,
		now:     time.Now,
	}
}

func cacheKey(tenantUID string) string {
	return fmt.Sprintf("capabilities:%s", tenantUID)
}

// Resolve вычисляет набор возможностей арендатора без побочных эффектов.
// Небольшое окно устаревания допустимо и ограничено TTL кеша; сверх того
// каждый биллинговый переход инвалидирует ключ явно.
func (s *Service) Resolve(ctx context.Context, tenantUID string) (*models.CapabilitySet, error) {
	const op = "services.entitlement.Resolve"

	var cached models.CapabilitySet
	key := cacheKey(tenantUID)
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		// Кеш необязателен для чтения возможностей: падаем на хранилище.
		s.log.Warn("capability cache read failed", sl.Err(err), sl.Tenant(tenantUID))
	}
	if found {
		return &cached, nil
	}

	snap, err := s.repo.GetBillingSnapshot(ctx, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cs := entitlement.BuildCapabilitySet(*snap, s.billing)

	if err := s.cache.Set(ctx, key, cs, s.billing.CapabilityCacheTTL); err != nil {
		s.log.Warn("capability cache write failed", sl.Err(err), sl.Tenant(tenantUID))
	}
	return &cs, nil
}

// Invalidate сбрасывает закешированный набор возможностей арендатора.
// Вызывается на каждом биллинговом переходе и записи тарифа.
func (s *Service) Invalidate(ctx context.Context, tenantUID string) {
	if err := s.cache.Invalidate(ctx, cacheKey(tenantUID)); err != nil {
		s.log.Warn("capability cache invalidation failed", sl.Err(err), sl.Tenant(tenantUID))
	}
}

// CheckAndConsume проверяет доступ к функции и, для метрируемых функций,
// атомарно потребляет квоту. Метрируемый путь никогда не обслуживается из
// кеша; при недоступном хранилище доступ закрывается, а не открывается.
func (s *Service) CheckAndConsume(ctx context.Context, tenantUID string, feature models.Feature, amount int) (*models.ConsumeResult, error) {
	const op = "services.entitlement.CheckAndConsume"

	if amount <= 0 {
		amount = 1
	}

	req, known := entitlement.Lookup(feature)
	if !known {
		metrics.EntitlementDenials.WithLabelValues("unknown_feature").Inc()
		return &models.ConsumeResult{Allowed: false, Reason: "unknown feature"},
			fmt.Errorf("unknown feature %q: %w", feature, models.ErrTierInsufficient)
	}

	if !req.Metered {
		cs, err := s.Resolve(ctx, tenantUID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !cs.Has(feature) {
			metrics.EntitlementDenials.WithLabelValues("tier_insufficient").Inc()
			return &models.ConsumeResult{Allowed: false, Reason: "tier insufficient"}, models.ErrTierInsufficient
		}
		return &models.ConsumeResult{Allowed: true}, nil
	}

	periodKey := period.Key(s.now())
	outcome, err := s.repo.ConsumeMetered(ctx, tenantUID, string(feature), periodKey, amount,
		func(snap models.BillingSnapshot) (*int, bool) {
			return entitlement.MeteredLimit(feature, snap, s.billing)
		})
	if err != nil {
		// Недоступное хранилище закрывает платную функцию, а не пускает без учёта.
		s.log.Error("metered check failed closed", sl.Err(err), sl.Tenant(tenantUID),
			slog.String("feature", string(feature)))
		metrics.UsageConsumes.WithLabelValues("store_failure").Inc()
		return &models.ConsumeResult{Allowed: false, Reason: "store unavailable"},
			fmt.Errorf("%s: %w: %w", op, models.ErrTransientStoreFailure, err)
	}

	if !outcome.Entitled {
		metrics.EntitlementDenials.WithLabelValues("tier_insufficient").Inc()
		return &models.ConsumeResult{Allowed: false, Reason: "tier insufficient"}, models.ErrTierInsufficient
	}

	result := &models.ConsumeResult{
		Allowed:      outcome.Allowed,
		NewCount:     outcome.NewCount,
		WarningLevel: warningLevel(outcome.NewCount, outcome.Limit, s.billing.WarningThresholds),
	}
	if outcome.Limit != nil {
		remaining := *outcome.Limit - outcome.NewCount
		if remaining < 0 {
			remaining = 0
		}
		result.Remaining = &remaining
	}

	if !outcome.Allowed {
		result.Reason = "usage limit exceeded"
		metrics.UsageConsumes.WithLabelValues("denied").Inc()
		s.auditBlocked(ctx, tenantUID, feature, periodKey, outcome.NewCount)
		return result, models.ErrUsageLimitExceeded
	}
	metrics.UsageConsumes.WithLabelValues("allowed").Inc()
	return result, nil
}

// warningLevel вычисляет рекомендательный флаг из возвращённого счётчика,
// а не из отдельного состояния: 80/90/95% лимита.
func warningLevel(count int, limit *int, thresholds []int) string {
	if limit == nil || *limit == 0 {
		return ""
	}
	pct := count * 100 / *limit
	level := ""
	for _, t := range thresholds {
		if pct >= t {
			level = fmt.Sprintf("%d%%", t)
		}
	}
	return level
}

func (s *Service) auditBlocked(ctx context.Context, tenantUID string, feature models.Feature, periodKey string, count int) {
	ev := models.AuditEvent{
		TenantUID: &tenantUID,
		Kind:      models.AuditUsageBlocked,
		Payload:   fmt.Sprintf(`{"feature":%q,"period":%q,"count":%d}`, feature, periodKey, count),
	}
	if err := s.repo.InsertAuditEvent(ctx, ev); err != nil {
		s.log.Warn("failed to audit blocked usage", sl.Err(err), sl.Tenant(tenantUID))
	}
}
