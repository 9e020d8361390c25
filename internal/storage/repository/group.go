package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// CreateCustomerGroup создаёт группу клиентов арендатора и возвращает её ID.
func (s *Storage) CreateCustomerGroup(ctx context.Context, tenantUID, name string) (int64, error) {
	const op = "storage.CreateCustomerGroup"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO customer_groups (tenant_uid, name) VALUES ($1, $2) RETURNING id`
	var id int64
	if err := s.DB.QueryRowContext(ctx, query, tenantUID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// CreateCustomer создаёт клиента арендатора и возвращает его ID.
func (s *Storage) CreateCustomer(ctx context.Context, tenantUID, name, email string) (int64, error) {
	const op = "storage.CreateCustomer"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO customers (tenant_uid, name, email) VALUES ($1, $2, $3) RETURNING id`
	var id int64
	if err := s.DB.QueryRowContext(ctx, query, tenantUID, name, email).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// CountCustomers возвращает число клиентов арендатора — для проверки
// потолка тарифа при создании.
func (s *Storage) CountCustomers(ctx context.Context, tenantUID string) (int, error) {
	const op = "storage.CountCustomers"

	var count int
	query := `SELECT COUNT(*) FROM customers WHERE tenant_uid = $1`
	if err := s.DB.QueryRowContext(ctx, query, tenantUID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// AddGroupMember добавляет клиента в группу. Вставка проходит только если
// и группа, и клиент принадлежат действующему арендатору — ссылка на чужую
// запись отклоняется на записи, а не молча отбрасывается. Возвращает false,
// если строка не была вставлена (чужая запись или дубликат членства).
func (s *Storage) AddGroupMember(ctx context.Context, tenantUID string, groupID, customerID int64) (bool, error) {
	const op = "storage.AddGroupMember"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO group_memberships (group_id, customer_id)
			  SELECT g.id, c.id
			  FROM customer_groups g
			  JOIN customers c ON c.tenant_uid = g.tenant_uid
			  WHERE g.id = $2 AND c.id = $3 AND g.tenant_uid = $1
			  ON CONFLICT (group_id, customer_id) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query, tenantUID, groupID, customerID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// ListGroupMembers возвращает клиентов группы в рамках арендатора.
func (s *Storage) ListGroupMembers(ctx context.Context, tenantUID string, groupID int64) ([]*models.Customer, error) {
	const op = "storage.ListGroupMembers"

	query := `SELECT c.id, c.tenant_uid, c.name, c.email, c.created_at
			  FROM group_memberships m
			  JOIN customer_groups g ON g.id = m.group_id
			  JOIN customers c ON c.id = m.customer_id
			  WHERE g.tenant_uid = $1 AND m.group_id = $2
			  ORDER BY c.id`
	rows, err := s.DB.QueryContext(ctx, query, tenantUID, groupID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.TenantUID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
