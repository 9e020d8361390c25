package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// InsertPaymentTransaction добавляет строку журнала платежей в статусе pending.
// Возвращает false при повторном отпечатке: журнал только пополняется,
// уникальный индекс по отпечатку и есть окно дедупликации (бессрочное).
func (s *Storage) InsertPaymentTransaction(ctx context.Context, t models.PaymentTransaction) (bool, error) {
	const op = "storage.InsertPaymentTransaction"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payment_transactions
			    (tenant_uid, fingerprint, attempt_id, kind, outcome, amount, currency, status, terminal)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
			  ON CONFLICT (fingerprint) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query,
		t.TenantUID, t.Fingerprint, t.AttemptID, t.Kind, t.Outcome, t.Amount, t.Currency, t.Terminal)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// GetPaymentTransaction возвращает строку журнала по отпечатку.
func (s *Storage) GetPaymentTransaction(ctx context.Context, fingerprint string) (*models.PaymentTransaction, error) {
	const op = "storage.GetPaymentTransaction"

	query := `SELECT id, tenant_uid, fingerprint, attempt_id, kind, outcome, amount, currency, status, terminal, created_at
			  FROM payment_transactions WHERE fingerprint = $1`
	var t models.PaymentTransaction
	err := s.DB.QueryRowContext(ctx, query, fingerprint).Scan(
		&t.ID, &t.TenantUID, &t.Fingerprint, &t.AttemptID, &t.Kind, &t.Outcome,
		&t.Amount, &t.Currency, &t.Status, &t.Terminal, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

// FinalizePaymentTransaction переводит строку pending -> completed|failed
// ровно один раз, после того как связанный переход состояния надёжно записан.
func (s *Storage) FinalizePaymentTransaction(ctx context.Context, fingerprint, status string) (bool, error) {
	const op = "storage.FinalizePaymentTransaction"

	query := `UPDATE payment_transactions
			  SET status = $2
			  WHERE fingerprint = $1 AND status = 'pending'`
	res, err := s.DB.ExecContext(ctx, query, fingerprint, status)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// HasConflictingOutcome сообщает, записан ли для попытки attemptID
// окончательный исход, отличный от outcome.
func (s *Storage) HasConflictingOutcome(ctx context.Context, attemptID, outcome string) (bool, error) {
	const op = "storage.HasConflictingOutcome"

	query := `SELECT EXISTS (
			    SELECT 1 FROM payment_transactions
			    WHERE attempt_id = $1 AND terminal = true AND outcome <> $2
			  )`
	var exists bool
	if err := s.DB.QueryRowContext(ctx, query, attemptID, outcome).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// ListPaymentTransactions возвращает журнал платежей арендатора с пагинацией.
func (s *Storage) ListPaymentTransactions(ctx context.Context, tenantUID string, limit, offset int) ([]*models.PaymentTransaction, error) {
	const op = "storage.ListPaymentTransactions"

	query := `SELECT id, tenant_uid, fingerprint, attempt_id, kind, outcome, amount, currency, status, terminal, created_at
			  FROM payment_transactions
			  WHERE tenant_uid = $1
			  ORDER BY id
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, tenantUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.PaymentTransaction
	for rows.Next() {
		var t models.PaymentTransaction
		if err := rows.Scan(&t.ID, &t.TenantUID, &t.Fingerprint, &t.AttemptID, &t.Kind, &t.Outcome,
			&t.Amount, &t.Currency, &t.Status, &t.Terminal, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// InsertAuditEvent добавляет запись контрольного журнала. Журнал только
// пополняется, записи никогда не изменяются и не удаляются.
func (s *Storage) InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error {
	const op = "storage.InsertAuditEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO audit_events (tenant_uid, kind, fingerprint, payload)
			  VALUES ($1, $2, $3, $4)`
	if _, err := s.DB.ExecContext(ctx, query, ev.TenantUID, ev.Kind, ev.Fingerprint, ev.Payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListAuditEvents возвращает записи аудита арендатора начиная с момента since.
func (s *Storage) ListAuditEvents(ctx context.Context, tenantUID string, since time.Time, limit, offset int) ([]*models.AuditEvent, error) {
	const op = "storage.ListAuditEvents"

	query := `SELECT id, tenant_uid, kind, fingerprint, payload, created_at
			  FROM audit_events
			  WHERE tenant_uid = $1 AND created_at >= $2
			  ORDER BY id
			  LIMIT $3 OFFSET $4`
	rows, err := s.DB.QueryContext(ctx, query, tenantUID, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.TenantUID, &ev.Kind, &ev.Fingerprint, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountAuditEventsByFingerprint считает записи аудита для отпечатка события.
func (s *Storage) CountAuditEventsByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	const op = "storage.CountAuditEventsByFingerprint"

	var count int
	query := `SELECT COUNT(*) FROM audit_events WHERE fingerprint = $1`
	if err := s.DB.QueryRowContext(ctx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
