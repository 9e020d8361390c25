// Package tierpurchase реализует HTTP-обработчик покупки базового тарифа
// платформы (вечное владение, оплачивается разница в цене).
package tierpurchase

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
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

// Service описывает интерфейс покупки тарифа.
type Service interface {
	PurchaseTier(ctx context.Context, tenantUID string, level int) error
}

// Handler управляет HTTP-запросами на покупку тарифа.
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
// @Summary Купить базовый тариф платформы
// @Tags Billing
// @Accept json
// @Produce json
// @Param Dummy body models.DummyTierChange true "Целевой уровень тарифа"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Уровень не выше текущего"
// @Router /billing/tier/purchase [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.tierpurchase"
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

	var req models.DummyTierChange
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

	if err := h.service.PurchaseTier(r.Context(), tc.UID, req.NewTier); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			log.Info("tier purchase rejected", sl.Tenant(tc.UID), slog.Int("level", req.NewTier))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Error("tier level must be above the current one"))
			return
		}
		log.Error("failed to purchase tier", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not purchase tier"))
		return
	}

	render.JSON(w, r, response.OK())
}
