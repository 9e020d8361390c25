// Package subscribe реализует HTTP-обработчик оформления подписки на
// дополнение. Подписка создаётся в состоянии incomplete и активируется
// только подтверждённым первым списанием.
package subscribe

import (
	"context"
	"encoding/json"
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

// Service описывает интерфейс оформления подписки.
type Service interface {
	SubscribeAddon(ctx context.Context, tenantUID string, level int) (*models.AddonSubscription, error)
}

// Handler управляет HTTP-запросами на оформление подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформить подписку на дополнение
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body models.DummyTierChange true "Уровень дополнения"
// @Success 200 {object} map[string]any "Статус созданной подписки"
// @Failure 409 {object} response.ErrorResponse "Подписка уже существует"
// @Router /billing/addon/subscribe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.subscribe"
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
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	sub, err := h.service.SubscribeAddon(r.Context(), tc.UID, req.NewTier)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			log.Info("subscription rejected", sl.Tenant(tc.UID), sl.Err(err))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Error("subscription already exists"))
			return
		}
		log.Error("failed to subscribe", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not subscribe"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"addon_tier": sub.AddonTier,
		"status":     sub.Status,
	}))
}
