// Package paymentlist отдаёт журнал платежей арендатора с пагинацией.
package paymentlist

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/tenant"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Service описывает чтение журнала платежей.
type Service interface {
	ListPaymentTransactions(ctx context.Context, tenantUID string, limit, offset int) ([]*models.PaymentTransaction, error)
}

// Handler управляет HTTP-запросами списка платежей.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Список платежей арендатора
// @Tags Payments
// @Produce json
// @Param limit query int false "Размер страницы, по умолчанию 50"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response
// @Router /payments [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payments.list"
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

	limit, offset := pageParams(r)
	txs, err := h.service.ListPaymentTransactions(r.Context(), tc.UID, limit, offset)
	if err != nil {
		log.Error("failed to list payment transactions", sl.Err(err), sl.Tenant(tc.UID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("payments listed", sl.Tenant(tc.UID), slog.Int("count", len(txs)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"count":    len(txs),
		"payments": txs,
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
