// Package capabilities реализует HTTP-обработчик чтения набора возможностей
// арендатора. Чтение не имеет побочных эффектов и может обслуживаться
// из короткоживущего кеша.
package capabilities

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

// Service описывает интерфейс разрешения возможностей.
type Service interface {
	Resolve(ctx context.Context, tenantUID string) (*models.CapabilitySet, error)
}

// Handler управляет HTTP-запросами на чтение возможностей.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Текущий набор возможностей арендатора
// @Tags Entitlements
// @Produce json
// @Success 200 {object} models.CapabilitySet
// @Failure 401 {object} response.ErrorResponse "Нет контекста арендатора"
// @Router /entitlements/capabilities [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.capabilities"
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

	cs, err := h.service.Resolve(r.Context(), tc.UID)
	if err != nil {
		log.Error("failed to resolve capabilities", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not resolve capabilities"))
		return
	}

	render.JSON(w, r, response.OKWithData(cs))
}
