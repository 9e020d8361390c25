// Package consume реализует HTTP-обработчик метрируемой проверки функции:
// проверка права и атомарное потребление квоты в одном вызове.
package consume

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

// Service описывает интерфейс проверки и потребления функции.
type Service interface {
	CheckAndConsume(ctx context.Context, tenantUID string, feature models.Feature, amount int) (*models.ConsumeResult, error)
}

// Handler управляет HTTP-запросами на потребление метрируемых функций.
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
// @Summary Проверить функцию и потребить квоту
// @Description Для метрируемых функций атомарно инкрементирует счётчик
// @Description периода; отказ по квоте или тарифу возвращается как 200
// @Description с allowed=false, чтобы клиент различал отказ и сбой.
// @Tags Entitlements
// @Accept json
// @Produce json
// @Param request body models.DummyConsume true "Функция и количество"
// @Success 200 {object} models.ConsumeResult
// @Failure 401 {object} response.ErrorResponse "Нет контекста арендатора"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно, доступ закрыт"
// @Router /entitlements/consume [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.consume"
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

	var req models.DummyConsume
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

	result, err := h.service.CheckAndConsume(r.Context(), tc.UID, models.Feature(req.Feature), req.Amount)
	switch {
	case err == nil:
		render.JSON(w, r, response.OKWithData(result))
	case errors.Is(err, models.ErrUsageLimitExceeded), errors.Is(err, models.ErrTierInsufficient):
		// Отказ по праву или квоте — штатный ответ, не сбой.
		render.JSON(w, r, response.OKWithData(result))
	case errors.Is(err, models.ErrTransientStoreFailure):
		log.Error("store unavailable, failing closed", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("temporarily unavailable"))
	default:
		log.Error("failed to consume feature", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not consume feature"))
	}
}
