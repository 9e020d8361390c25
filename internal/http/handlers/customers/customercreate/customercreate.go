// Package customercreate реализует HTTP-обработчик создания клиента
// арендатора в пределах потолка тарифа.
package customercreate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/customers"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

// Service описывает создание клиента.
type Service interface {
	CreateCustomer(ctx context.Context, tenantUID, name, email string) (int64, error)
}

// Handler управляет HTTP-запросами на создание клиента.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Создать клиента
// @Tags Customers
// @Accept json
// @Produce json
// @Param Dummy body models.DummyCustomer true "Данные клиента"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse "Достигнут потолок клиентов тарифа"
// @Router /customers [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.customers.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	tc, err := tenant.FromContext(r.Context())
	if err != nil {
		log.Error("tenant context missing")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	var req models.DummyCustomer
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		errors.As(err, &validateErr)
		log.Error("invalid request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(validateErr))
		return
	}

	id, err := h.service.CreateCustomer(r.Context(), tc.UID, req.Name, req.Email)
	if err != nil {
		if errors.Is(err, customers.ErrCustomerLimitReached) {
			log.Info("customer limit reached", sl.Tenant(tc.UID))
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("customer limit reached for current tier"))
			return
		}
		log.Error("failed to create customer", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create customer"))
		return
	}

	log.Info("customer created", sl.Tenant(tc.UID), slog.Int64("customer_id", id))
	render.JSON(w, r, response.OKWithData(map[string]any{"customer_id": id}))
}
