package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// MarkPastDueWithRetries переводит подписку active -> past_due и в той же
// транзакции планирует попытки повторного списания, каждую со смещением от
// ИСХОДНОГО сбоя. Переход и расписание записываются вместе: просрочки без
// попыток не существует. Повторная доставка того же сбоя и сбой, пришедший
// после уже случившейся просрочки, — no-op.
func (s *Storage) MarkPastDueWithRetries(ctx context.Context, tenantUID string, failureAt time.Time, offsetsDays []int) (bool, error) {
	const op = "storage.MarkPastDueWithRetries"

	var moved bool
	err := s.withTenantLock(ctx, tenantUID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE addon_subscriptions
			SET status = 'past_due', updated_at = now()
			WHERE tenant_uid = $1 AND status = 'active'`, tenantUID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if n == 0 {
			return nil
		}
		moved = true

		insert := `INSERT INTO billing_retries (tenant_uid, attempt, due_at, status, original_failure_at)
				   VALUES ($1, $2, $3, 'scheduled', $4)
				   ON CONFLICT (tenant_uid, original_failure_at, attempt) DO NOTHING`
		for i, offset := range offsetsDays {
			dueAt := failureAt.AddDate(0, 0, offset)
			if _, err := tx.ExecContext(ctx, insert, tenantUID, i+1, dueAt, failureAt); err != nil {
				return fmt.Errorf("%s: attempt %d: %w", op, i+1, err)
			}
		}
		return nil
	})
	return moved, err
}

// ClaimDueRetries атомарно забирает наступившие попытки: scheduled -> dispatched.
// Конкурирующий планировщик не получит те же строки. Забираются только попытки
// подписок, всё ещё находящихся в past_due, вместе с суммой списания.
func (s *Storage) ClaimDueRetries(ctx context.Context, asOf time.Time) ([]*models.BillingRetry, error) {
	const op = "storage.ClaimDueRetries"

	query := `UPDATE billing_retries br
			  SET status = 'dispatched'
			  FROM addon_subscriptions sub
			  WHERE br.status = 'scheduled' AND br.due_at <= $1
			    AND sub.tenant_uid = br.tenant_uid AND sub.status = 'past_due'
			  RETURNING br.id, br.tenant_uid, br.attempt, br.due_at, br.status,
			            br.original_failure_at, sub.monthly_price`
	rows, err := s.DB.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.BillingRetry
	for rows.Next() {
		var r models.BillingRetry
		if err := rows.Scan(&r.ID, &r.TenantUID, &r.Attempt, &r.DueAt, &r.Status,
			&r.OriginalFailureAt, &r.Amount); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CompleteRetry помечает попытку выполненной после получения её исхода.
func (s *Storage) CompleteRetry(ctx context.Context, tenantUID string, attempt int) error {
	const op = "storage.CompleteRetry"

	query := `UPDATE billing_retries
			  SET status = 'done'
			  WHERE tenant_uid = $1 AND attempt = $2 AND status IN ('scheduled', 'dispatched')`
	if _, err := s.DB.ExecContext(ctx, query, tenantUID, attempt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CancelPendingRetries снимает оставшиеся попытки после успеха любой из них
// или после реактивации.
func (s *Storage) CancelPendingRetries(ctx context.Context, tenantUID string) error {
	const op = "storage.CancelPendingRetries"

	query := `UPDATE billing_retries
			  SET status = 'canceled'
			  WHERE tenant_uid = $1 AND status IN ('scheduled', 'dispatched')`
	if _, err := s.DB.ExecContext(ctx, query, tenantUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
