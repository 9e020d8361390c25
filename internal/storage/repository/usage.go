package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// ConsumeMetered атомарно потребляет метрируемую функцию: в одной транзакции
// берётся блокировка арендатора, читается биллинговый срез, resolveLimit
// выводит из него лимит, и счётчик инкрементируется условным обновлением.
// Конкурирующая смена тарифа не может вклиниться между чтением среза и
// проверкой счётчика; два конкурирующих вызова никогда не проходят лимит оба.
func (s *Storage) ConsumeMetered(
	ctx context.Context,
	tenantUID string,
	feature string,
	periodKey string,
	amount int,
	resolveLimit func(models.BillingSnapshot) (*int, bool),
) (*models.ConsumeOutcome, error) {
	const op = "storage.ConsumeMetered"

	var out models.ConsumeOutcome
	err := s.withTenantLock(ctx, tenantUID, func(tx *sql.Tx) error {
		snap, err := scanBillingSnapshot(ctx, tx, tenantUID)
		if err != nil {
			return fmt.Errorf("%s: snapshot: %w", op, err)
		}

		limit, entitled := resolveLimit(*snap)
		if !entitled {
			out = models.ConsumeOutcome{Entitled: false}
			return nil
		}
		out.Entitled = true
		out.Limit = limit

		// Новая строка периода появляется лениво: сброс счётчика — это
		// смена ключа периода, а не обнуление существующей строки.
		insert := `INSERT INTO usage_counters (tenant_uid, feature, period, count, limit_value)
				   VALUES ($1, $2, $3, 0, $4)
				   ON CONFLICT (tenant_uid, feature, period) DO NOTHING`
		if _, err := tx.ExecContext(ctx, insert, tenantUID, feature, periodKey, intPtrToNull(limit)); err != nil {
			return fmt.Errorf("%s: init counter: %w", op, err)
		}

		update := `UPDATE usage_counters
				   SET count = count + $4, limit_value = $5, updated_at = now()
				   WHERE tenant_uid = $1 AND feature = $2 AND period = $3
				     AND ($5::bigint IS NULL OR count + $4 <= $5)
				   RETURNING count`
		var newCount int
		err = tx.QueryRowContext(ctx, update, tenantUID, feature, periodKey, amount, intPtrToNull(limit)).Scan(&newCount)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Лимит не пускает: читаем текущее значение для ответа.
			read := `SELECT count FROM usage_counters
					 WHERE tenant_uid = $1 AND feature = $2 AND period = $3`
			if err := tx.QueryRowContext(ctx, read, tenantUID, feature, periodKey).Scan(&out.NewCount); err != nil {
				return fmt.Errorf("%s: read count: %w", op, err)
			}
			out.Allowed = false
			return nil
		case err != nil:
			return fmt.Errorf("%s: increment: %w", op, err)
		}
		out.Allowed = true
		out.NewCount = newCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func intPtrToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// GetUsageCounter возвращает счётчик использования за период, если он есть.
func (s *Storage) GetUsageCounter(ctx context.Context, tenantUID string, feature string, periodKey string) (*models.UsageCounter, error) {
	const op = "storage.GetUsageCounter"

	query := `SELECT tenant_uid, feature, period, count, limit_value, updated_at
			  FROM usage_counters
			  WHERE tenant_uid = $1 AND feature = $2 AND period = $3`
	var c models.UsageCounter
	var limit sql.NullInt64
	err := s.DB.QueryRowContext(ctx, query, tenantUID, feature, periodKey).Scan(
		&c.TenantUID, &c.Feature, &c.Period, &c.Count, &limit, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if limit.Valid {
		v := int(limit.Int64)
		c.Limit = &v
	}
	return &c, nil
}
