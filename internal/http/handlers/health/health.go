// Package health реализует проверку живости сервиса и готовности базы.
package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-engine/internal/http/response"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
)

// Checker проверяет готовность зависимостей сервиса.
type Checker func() error

// Handler управляет HTTP-запросами проверки здоровья.
type Handler struct {
	log   *slog.Logger
	ready Checker
}

// New создает новый Handler с переданными логгером и проверкой готовности.
func New(log *slog.Logger, ready Checker) *Handler {
	return &Handler{log: log, ready: ready}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	if h.ready != nil {
		if err := h.ready(); err != nil {
			h.log.Error("readiness check failed", slog.String("op", op), sl.Err(err))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("not ready"))
			return
		}
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"status": "ok",
	}))
}
