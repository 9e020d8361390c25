// Package auditlist отдаёт контрольный журнал арендатора: переходы биллинга,
// принятые и отброшенные платёжные события, отказы по квотам и изоляции.
package auditlist

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Service описывает чтение контрольного журнала.
type Service interface {
	ListAuditEvents(ctx context.Context, tenantUID string, since time.Time, limit, offset int) ([]*models.AuditEvent, error)
}

// Handler управляет HTTP-запросами контрольного журнала.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Контрольный журнал арендатора
// @Tags Audit
// @Produce json
// @Param since query string false "RFC3339, записи не старше этого момента"
// @Param limit query int false "Размер страницы, по умолчанию 100"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Неверный формат since"
// @Router /audit [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.audit.list"
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

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			log.Error("invalid since parameter", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("since must be RFC3339"))
			return
		}
	}

	limit, offset := pageParams(r)
	events, err := h.service.ListAuditEvents(r.Context(), tc.UID, since, limit, offset)
	if err != nil {
		log.Error("failed to list audit events", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("audit events listed", sl.Tenant(tc.UID), slog.Int("count", len(events)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"count":  len(events),
		"events": events,
	}))
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}
