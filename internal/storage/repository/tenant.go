package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// CreateTenant регистрирует нового арендатора.
func (s *Storage) CreateTenant(ctx context.Context, t models.Tenant) error {
	const op = "storage.CreateTenant"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO tenants (uid, username, email, password_hash, role, status)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.DB.ExecContext(ctx, query,
		t.UID, t.Username, t.Email, t.PasswordHash, t.Role, t.Status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetTenantByUsername возвращает арендатора по имени пользователя.
func (s *Storage) GetTenantByUsername(ctx context.Context, username string) (*models.Tenant, error) {
	const op = "storage.GetTenantByUsername"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, username, email, password_hash, role, status, created_at
			  FROM tenants WHERE username = $1`
	row := s.DB.QueryRowContext(ctx, query, username)

	var t models.Tenant
	if err := row.Scan(&t.UID, &t.Username, &t.Email, &t.PasswordHash,
		&t.Role, &t.Status, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

// GetTenantByUID возвращает арендатора по uid.
func (s *Storage) GetTenantByUID(ctx context.Context, uid string) (*models.Tenant, error) {
	const op = "storage.GetTenantByUID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, username, email, password_hash, role, status, created_at
			  FROM tenants WHERE uid = $1`
	row := s.DB.QueryRowContext(ctx, query, uid)

	var t models.Tenant
	if err := row.Scan(&t.UID, &t.Username, &t.Email, &t.PasswordHash,
		&t.Role, &t.Status, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}
