// Package reactivate реализует HTTP-обработчик реактивации отменённой
// подписки: полная месячная цена, новый цикл от момента оплаты.
package reactivate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

// Service описывает интерфейс реактивации подписки.
type Service interface {
	Reactivate(ctx context.Context, tenantUID string) error
}

// Handler управляет HTTP-запросами на реактивацию.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Реактивировать отменённую подписку
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Response
// @Failure 409 {object} response.ErrorResponse "Подписка не в состоянии canceled"
// @Router /billing/addon/reactivate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.reactivate"
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

	if err := h.service.Reactivate(r.Context(), tc.UID); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			log.Info("reactivation rejected", sl.Tenant(tc.UID), sl.Err(err))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Error("subscription is not canceled"))
			return
		}
		log.Error("failed to reactivate", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reactivate subscription"))
		return
	}

	render.JSON(w, r, response.OK())
}
