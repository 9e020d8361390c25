package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// querier покрывает *sql.DB и *sql.Tx: срез биллингового состояния читается
// и снаружи, и внутри транзакции метрируемой проверки.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const billingSnapshotQuery = `
	SELECT t.uid,
	       COALESCE(o.tier_level, 0),
	       COALESCE(a.addon_tier, 0),
	       COALESCE(a.status, ''),
	       a.usage_limit,
	       a.pending_tier,
	       a.anchor_date,
	       (a.suspended_at IS NOT NULL)
	FROM tenants t
	LEFT JOIN tier_ownerships o ON o.tenant_uid = t.uid AND o.status = 'active'
	LEFT JOIN addon_subscriptions a ON a.tenant_uid = t.uid
	WHERE t.uid = $1`

func scanBillingSnapshot(ctx context.Context, q querier, tenantUID string) (*models.BillingSnapshot, error) {
	var snap models.BillingSnapshot
	var usageLimit, pendingTier sql.NullInt64
	var anchor sql.NullTime
	var suspended sql.NullBool

	row := q.QueryRowContext(ctx, billingSnapshotQuery, tenantUID)
	err := row.Scan(&snap.TenantUID, &snap.TierLevel, &snap.AddonTier, &snap.AddonStatus,
		&usageLimit, &pendingTier, &anchor, &suspended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if usageLimit.Valid {
		v := int(usageLimit.Int64)
		snap.AddonLimit = &v
	}
	if pendingTier.Valid {
		v := int(pendingTier.Int64)
		snap.PendingTier = &v
	}
	if anchor.Valid {
		v := anchor.Time
		snap.AnchorDate = &v
	}
	snap.Suspended = suspended.Valid && suspended.Bool
	return &snap, nil
}

// GetBillingSnapshot возвращает срез биллингового состояния арендатора
// без блокировок — для чтения возможностей.
func (s *Storage) GetBillingSnapshot(ctx context.Context, tenantUID string) (*models.BillingSnapshot, error) {
	const op = "storage.GetBillingSnapshot"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	snap, err := scanBillingSnapshot(ctx, s.DB, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return snap, nil
}

// UpsertTierOwnership записывает покупку или повышение разового тарифа.
// Уровень меняется только в большую сторону, сумма покупок накапливается.
func (s *Storage) UpsertTierOwnership(ctx context.Context, tenantUID string, level int, amount int64, at time.Time) error {
	const op = "storage.UpsertTierOwnership"

	return s.withTenantLock(ctx, tenantUID, func(tx *sql.Tx) error {
		query := `INSERT INTO tier_ownerships (tenant_uid, tier_level, purchased_at, amount_paid, status)
				  VALUES ($1, $2, $3, $4, 'active')
				  ON CONFLICT (tenant_uid) DO UPDATE
				  SET tier_level  = GREATEST(tier_ownerships.tier_level, EXCLUDED.tier_level),
				      amount_paid = tier_ownerships.amount_paid + EXCLUDED.amount_paid`
		if _, err := tx.ExecContext(ctx, query, tenantUID, level, at, amount); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// GetTierOwnership возвращает запись владения тарифом.
func (s *Storage) GetTierOwnership(ctx context.Context, tenantUID string) (*models.TierOwnership, error) {
	const op = "storage.GetTierOwnership"

	query := `SELECT tenant_uid, tier_level, purchased_at, amount_paid, status
			  FROM tier_ownerships WHERE tenant_uid = $1`
	var o models.TierOwnership
	err := s.DB.QueryRowContext(ctx, query, tenantUID).Scan(
		&o.TenantUID, &o.TierLevel, &o.PurchasedAt, &o.AmountPaid, &o.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &o, nil
}

// CreateAddonSubscription заводит новую подписку в статусе incomplete.
// Возвращает false, если у арендатора подписка уже существует.
func (s *Storage) CreateAddonSubscription(ctx context.Context, sub models.AddonSubscription) (bool, error) {
	const op = "storage.CreateAddonSubscription"

	var created bool
	err := s.withTenantLock(ctx, sub.TenantUID, func(tx *sql.Tx) error {
		query := `INSERT INTO addon_subscriptions
				    (tenant_uid, addon_tier, monthly_price, usage_limit, status, anchor_date, next_charge_at)
				  VALUES ($1, $2, $3, $4, $5, $6, $7)
				  ON CONFLICT (tenant_uid) DO NOTHING`
		res, err := tx.ExecContext(ctx, query, sub.TenantUID, sub.AddonTier, sub.MonthlyPrice,
			sub.UsageLimit, sub.Status, sub.AnchorDate, sub.NextChargeAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		created = n > 0
		return nil
	})
	return created, err
}

// transitionAddon выполняет переход статуса compare-and-update: обновление
// срабатывает только если текущий статус входит в from. Возвращает true,
// если переход применился.
func (s *Storage) transitionAddon(ctx context.Context, op, tenantUID string, from []string, set string, args ...any) (bool, error) {
	var applied bool
	err := s.withTenantLock(ctx, tenantUID, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`UPDATE addon_subscriptions SET %s, updated_at = now()
				  WHERE tenant_uid = $1 AND status = ANY($2)`, set)
		qargs := append([]any{tenantUID, from}, args...)
		res, err := tx.ExecContext(ctx, query, qargs...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// ActivateIncomplete переводит incomplete -> active после первого успешного списания.
func (s *Storage) ActivateIncomplete(ctx context.Context, tenantUID string) (bool, error) {
	return s.transitionAddon(ctx, "storage.ActivateIncomplete", tenantUID,
		[]string{models.StatusIncomplete}, `status = 'active'`)
}

// RecoverPastDue переводит past_due -> active при успехе любой повторной попытки.
func (s *Storage) RecoverPastDue(ctx context.Context, tenantUID string) (bool, error) {
	return s.transitionAddon(ctx, "storage.RecoverPastDue", tenantUID,
		[]string{models.StatusPastDue}, `status = 'active'`)
}

// SuspendAndCancel после исчерпания попыток: приостановка и отмена выставляются
// одним обновлением — у приостановленного арендатора нет живой подписки,
// которую можно было бы возобновить, только путь реактивации.
func (s *Storage) SuspendAndCancel(ctx context.Context, tenantUID string, at time.Time) (bool, error) {
	return s.transitionAddon(ctx, "storage.SuspendAndCancel", tenantUID,
		[]string{models.StatusPastDue}, `status = 'canceled', suspended_at = $3`, at)
}

// CancelAddon — добровольная отмена подписки арендатором. Владение тарифом
// не затрагивается.
func (s *Storage) CancelAddon(ctx context.Context, tenantUID string) (bool, error) {
	return s.transitionAddon(ctx, "storage.CancelAddon", tenantUID,
		[]string{models.StatusActive, models.StatusTrialing, models.StatusPastDue}, `status = 'canceled'`)
}

// ReactivateAddon открывает новый биллинговый цикл после отмены/приостановки.
func (s *Storage) ReactivateAddon(ctx context.Context, tenantUID string, anchor, nextCharge time.Time) (bool, error) {
	return s.transitionAddon(ctx, "storage.ReactivateAddon", tenantUID,
		[]string{models.StatusCanceled, models.StatusSuspended},
		`status = 'active', suspended_at = NULL, pending_tier = NULL, anchor_date = $3, next_charge_at = $4`,
		anchor, nextCharge)
}

// UpgradeAddon повышает уровень дополнения немедленно: возможности растут
// сразу, регулярная цена меняется со следующего списания.
func (s *Storage) UpgradeAddon(ctx context.Context, tenantUID string, tier int, price int64, limit *int) (bool, error) {
	return s.transitionAddon(ctx, "storage.UpgradeAddon", tenantUID,
		[]string{models.StatusActive, models.StatusTrialing},
		`addon_tier = $3, monthly_price = $4, usage_limit = $5, pending_tier = NULL`,
		tier, price, limit)
}

// SetPendingDowngrade записывает отложенное понижение: статус и возможности
// не меняются до границы цикла.
func (s *Storage) SetPendingDowngrade(ctx context.Context, tenantUID string, tier int) (bool, error) {
	return s.transitionAddon(ctx, "storage.SetPendingDowngrade", tenantUID,
		[]string{models.StatusActive}, `pending_tier = $3`, tier)
}

// FindPendingDowngrades возвращает подписки, у которых наступила граница цикла
// и записано отложенное понижение.
func (s *Storage) FindPendingDowngrades(ctx context.Context, asOf time.Time) ([]models.PendingDowngrade, error) {
	const op = "storage.FindPendingDowngrades"

	query := `SELECT tenant_uid, pending_tier
			  FROM addon_subscriptions
			  WHERE pending_tier IS NOT NULL AND next_charge_at <= $1`
	rows, err := s.DB.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.PendingDowngrade
	for rows.Next() {
		var pd models.PendingDowngrade
		if err := rows.Scan(&pd.TenantUID, &pd.PendingTier); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ApplyPendingDowngrade атомарно применяет отложенное понижение на границе цикла.
func (s *Storage) ApplyPendingDowngrade(ctx context.Context, tenantUID string, tier int, price int64, limit *int) (bool, error) {
	return s.transitionAddon(ctx, "storage.ApplyPendingDowngrade", tenantUID,
		[]string{models.StatusActive, models.StatusPastDue},
		`addon_tier = $3, monthly_price = $4, usage_limit = $5, pending_tier = NULL`,
		tier, price, limit)
}

// ExpireIncomplete переводит подписки, не оплаченные в отведённое окно,
// в терминальный incomplete_expired. Возвращает uid затронутых арендаторов.
func (s *Storage) ExpireIncomplete(ctx context.Context, olderThan time.Time) ([]string, error) {
	const op = "storage.ExpireIncomplete"

	query := `UPDATE addon_subscriptions
			  SET status = 'incomplete_expired', updated_at = now()
			  WHERE status = 'incomplete' AND created_at < $1
			  RETURNING tenant_uid`
	rows, err := s.DB.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return uids, nil
}

// FindDueRecurring возвращает активные подписки, у которых наступил срок
// регулярного списания.
func (s *Storage) FindDueRecurring(ctx context.Context, asOf time.Time) ([]models.ChargeDue, error) {
	const op = "storage.FindDueRecurring"

	query := `SELECT tenant_uid, monthly_price, anchor_date, next_charge_at, pending_tier
			  FROM addon_subscriptions
			  WHERE status = 'active' AND next_charge_at <= $1`
	rows, err := s.DB.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.ChargeDue
	for rows.Next() {
		var c models.ChargeDue
		var pending sql.NullInt64
		if err := rows.Scan(&c.TenantUID, &c.Amount, &c.AnchorDate, &c.NextChargeAt, &pending); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if pending.Valid {
			v := int(pending.Int64)
			c.PendingTier = &v
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// AdvanceNextCharge сдвигает срок следующего списания compare-and-update:
// конкурирующий планировщик, увидевший тот же срок, продвинет его только
// один раз — списание не публикуется дважды.
func (s *Storage) AdvanceNextCharge(ctx context.Context, tenantUID string, from, to time.Time) (bool, error) {
	const op = "storage.AdvanceNextCharge"

	query := `UPDATE addon_subscriptions
			  SET next_charge_at = $3, updated_at = now()
			  WHERE tenant_uid = $1 AND next_charge_at = $2`
	res, err := s.DB.ExecContext(ctx, query, tenantUID, from, to)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// AdvanceNextChargeWithDowngrade продвигает срок следующего списания и тем же
// обновлением применяет отложенное понижение: граница цикла, на которой
// публикуется списание, и смена тарифа неразделимы. Конкурирующий
// планировщик или уже прошедший rollover проигрывают compare-and-update
// и не применяют понижение второй раз.
func (s *Storage) AdvanceNextChargeWithDowngrade(ctx context.Context, tenantUID string, from, to time.Time, tier int, price int64, limit *int) (bool, error) {
	const op = "storage.AdvanceNextChargeWithDowngrade"

	query := `UPDATE addon_subscriptions
			  SET next_charge_at = $3, addon_tier = $4, monthly_price = $5,
			      usage_limit = $6, pending_tier = NULL, updated_at = now()
			  WHERE tenant_uid = $1 AND next_charge_at = $2 AND pending_tier IS NOT NULL`
	res, err := s.DB.ExecContext(ctx, query, tenantUID, from, to, tier, price, intPtrToNull(limit))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
