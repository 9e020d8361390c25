// Package tierchange реализует HTTP-обработчики смены уровня дополнения:
// повышение с пропорциональной доплатой применяется немедленно,
// понижение бесплатно и откладывается до границы цикла.
package tierchange

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
	"github.com/magabrotheeeer/entitlement-engine/internal/services/payment"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

// Service описывает интерфейс операций смены уровня.
type Service interface {
	QuoteTierChange(ctx context.Context, tenantUID string, newTier int) (*payment.ChangeQuote, error)
	Upgrade(ctx context.Context, tenantUID string, newTier int) (*payment.ChangeQuote, error)
	Downgrade(ctx context.Context, tenantUID string, newTier int) (*payment.ChangeQuote, error)
}

type mode int

const (
	modeQuote mode = iota
	modeUpgrade
	modeDowngrade
)

// Handler управляет HTTP-запросами на смену уровня в одном из режимов.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
	mode     mode
}

// NewQuote создает Handler расчёта стоимости без списания.
func NewQuote(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New(), mode: modeQuote}
}

// NewUpgrade создает Handler немедленного повышения уровня.
func NewUpgrade(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New(), mode: modeUpgrade}
}

// NewDowngrade создает Handler отложенного понижения уровня.
func NewDowngrade(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New(), mode: modeDowngrade}
}

// ServeHTTP godoc
// @Summary Сменить уровень подписки на дополнение
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body models.DummyTierChange true "Целевой уровень"
// @Success 200 {object} payment.ChangeQuote
// @Failure 409 {object} response.ErrorResponse "Переход запрещён из текущего состояния"
// @Router /billing/addon/upgrade [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.tierchange"
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

	var quote *payment.ChangeQuote
	switch h.mode {
	case modeQuote:
		quote, err = h.service.QuoteTierChange(r.Context(), tc.UID, req.NewTier)
	case modeUpgrade:
		quote, err = h.service.Upgrade(r.Context(), tc.UID, req.NewTier)
	case modeDowngrade:
		quote, err = h.service.Downgrade(r.Context(), tc.UID, req.NewTier)
	}
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			log.Info("tier change rejected", sl.Tenant(tc.UID), sl.Err(err))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Error("tier change not allowed from current state"))
			return
		}
		log.Error("failed to change tier", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not change tier"))
		return
	}

	render.JSON(w, r, response.OKWithData(quote))
}
