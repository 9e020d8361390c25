// Package groupmembers реализует HTTP-обработчики состава группы:
// добавление клиента и список участников. Чужая группа или чужой клиент
// неотличимы от несуществующих — оба отвечают 404.
package groupmembers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

// Service описывает работу с составом группы.
type Service interface {
	AddMember(ctx context.Context, tenantUID string, groupID, customerID int64) error
	ListMembers(ctx context.Context, tenantUID string, groupID int64) ([]*models.Customer, error)
}

// Handler управляет HTTP-запросами состава группы.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// Add godoc
// @Summary Добавить клиента в группу
// @Tags Customers
// @Accept json
// @Produce json
// @Param groupID path int true "Идентификатор группы"
// @Param Dummy body models.DummyMember true "Идентификатор клиента"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "Группа или клиент не найдены"
// @Router /customers/groups/{groupID}/members [post]
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.customers.groupmembers.add"
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

	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		log.Error("invalid group id", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid group id"))
		return
	}

	var req models.DummyMember
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

	if err := h.service.AddMember(r.Context(), tc.UID, groupID, req.CustomerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Info("membership rejected", sl.Tenant(tc.UID),
				slog.Int64("group_id", groupID), slog.Int64("customer_id", req.CustomerID))
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("group or customer not found"))
			return
		}
		log.Error("failed to add member", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not add member"))
		return
	}

	render.JSON(w, r, response.OK())
}

// List godoc
// @Summary Список клиентов группы
// @Tags Customers
// @Produce json
// @Param groupID path int true "Идентификатор группы"
// @Success 200 {object} response.Response
// @Router /customers/groups/{groupID}/members [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.customers.groupmembers.list"
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

	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		log.Error("invalid group id", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid group id"))
		return
	}

	members, err := h.service.ListMembers(r.Context(), tc.UID, groupID)
	if err != nil {
		log.Error("failed to list members", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("group members listed", sl.Tenant(tc.UID),
		slog.Int64("group_id", groupID), slog.Int("count", len(members)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"count":   len(members),
		"members": members,
	}))
}
