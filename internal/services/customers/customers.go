// Package customers содержит работу с клиентами арендатора и их группами.
// Всё построено вокруг изоляции: любой чужой идентификатор отклоняется
// на записи, потолок числа клиентов берётся из возможностей тарифа.
package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// ErrCustomerLimitReached — арендатор упёрся в потолок клиентов своего тарифа.
var ErrCustomerLimitReached = errors.New("customer limit reached for tier")

// Repository определяет хранилище клиентов и групп.
type Repository interface {
	CreateCustomer(ctx context.Context, tenantUID, name, email string) (int64, error)
	CountCustomers(ctx context.Context, tenantUID string) (int, error)
	CreateCustomerGroup(ctx context.Context, tenantUID, name string) (int64, error)
	AddGroupMember(ctx context.Context, tenantUID string, groupID, customerID int64) (bool, error)
	ListGroupMembers(ctx context.Context, tenantUID string, groupID int64) ([]*models.Customer, error)
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
}

// Resolver отдаёт набор возможностей арендатора.
type Resolver interface {
	Resolve(ctx context.Context, tenantUID string) (*models.CapabilitySet, error)
}

// Service — операции с клиентами и группами.
type Service struct {
	repo Repository
	caps Resolver
	log  *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, caps Resolver, log *slog.Logger) *Service {
	return &Service{repo: repo, caps: caps, log: log}
}

// CreateCustomer добавляет клиента, если потолок тарифа это позволяет.
// Потолок совещательным не является: превышение — отказ.
func (s *Service) CreateCustomer(ctx context.Context, tenantUID, name, email string) (int64, error) {
	const op = "services.customers.CreateCustomer"

	cs, err := s.caps.Resolve(ctx, tenantUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	count, err := s.repo.CountCustomers(ctx, tenantUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if cs.CustomerLimit > 0 && count >= cs.CustomerLimit {
		return 0, fmt.Errorf("%s: %w", op, ErrCustomerLimitReached)
	}

	id, err := s.repo.CreateCustomer(ctx, tenantUID, name, email)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// CreateGroup создаёт группу клиентов арендатора.
func (s *Service) CreateGroup(ctx context.Context, tenantUID, name string) (int64, error) {
	const op = "services.customers.CreateGroup"

	id, err := s.repo.CreateCustomerGroup(ctx, tenantUID, name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// AddMember добавляет клиента в группу. Ссылка на клиента или группу,
// не принадлежащие арендатору, отклоняется на записи и попадает в аудит —
// это попытка выйти за границу изоляции, а не пользовательская ошибка.
func (s *Service) AddMember(ctx context.Context, tenantUID string, groupID, customerID int64) error {
	const op = "services.customers.AddMember"

	added, err := s.repo.AddGroupMember(ctx, tenantUID, groupID, customerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !added {
		payload, _ := json.Marshal(map[string]any{
			"group_id": groupID, "customer_id": customerID,
		})
		rec := models.AuditEvent{
			TenantUID: &tenantUID,
			Kind:      models.AuditIsolationDenied,
			Payload:   string(payload),
		}
		if auditErr := s.repo.InsertAuditEvent(ctx, rec); auditErr != nil {
			s.log.Error("failed to audit isolation denial", sl.Err(auditErr), sl.Tenant(tenantUID))
		}
		s.log.Warn("cross-tenant membership rejected", sl.Tenant(tenantUID),
			slog.Int64("group_id", groupID), slog.Int64("customer_id", customerID))
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// ListMembers возвращает клиентов группы арендатора.
func (s *Service) ListMembers(ctx context.Context, tenantUID string, groupID int64) ([]*models.Customer, error) {
	const op = "services.customers.ListMembers"

	members, err := s.repo.ListGroupMembers(ctx, tenantUID, groupID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return members, nil
}
