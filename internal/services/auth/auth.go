// Package auth содержит регистрацию арендаторов, вход и валидацию JWT.
// Каждая сессия несёт идентификатор арендатора: без него контекст
// изоляции не собирается и запрос отклоняется.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/password"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// TenantRepository описывает контракт для работы с арендаторами в базе данных.
type TenantRepository interface {
	// CreateTenant сохраняет нового арендатора.
	CreateTenant(ctx context.Context, t models.Tenant) error

	// GetTenantByUsername возвращает арендатора по имени или ErrNotFound.
	GetTenantByUsername(ctx context.Context, username string) (*models.Tenant, error)
}

// Service отвечает за регистрацию, авторизацию и валидацию JWT.
type Service struct {
	tenants  TenantRepository
	jwtMaker jwt.Maker
}

// New создает новый экземпляр Service.
func New(tenants TenantRepository, jwtMaker jwt.Maker) *Service {
	return &Service{
		tenants:  tenants,
		jwtMaker: jwtMaker,
	}
}

// ErrInvalidCredentials — пароль не совпал или пользователь не найден.
// Наружу оба случая выглядят одинаково.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Register создает нового арендатора с хэшированием пароля и ролью "tenant".
func (s *Service) Register(ctx context.Context, email, username, rawPassword string) (string, error) {
	const op = "services.auth.Register"

	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	tenant := models.Tenant{
		UID:          uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		Role:         "tenant",
		Status:       models.TenantActive,
	}
	if err := s.tenants.CreateTenant(ctx, tenant); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return tenant.UID, nil
}

// Login проверяет пароль арендатора и генерирует JWT сессии.
func (s *Service) Login(ctx context.Context, username, rawPassword string) (token, role string, err error) {
	const op = "services.auth.Login"

	tenant, err := s.tenants.GetTenantByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	if tenant.Status != models.TenantActive {
		return "", "", ErrInvalidCredentials
	}
	if err := password.CompareHash(tenant.PasswordHash, rawPassword); err != nil {
		return "", "", ErrInvalidCredentials
	}
	token, err = s.jwtMaker.GenerateToken(tenant.UID, tenant.Username, tenant.Role)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	return token, tenant.Role, nil
}

// ValidateToken проверяет JWT и возвращает claims сессии арендатора.
func (s *Service) ValidateToken(_ context.Context, token string) (*jwt.SessionClaims, error) {
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
