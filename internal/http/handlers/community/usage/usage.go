// Package usage реализует HTTP-обработчик журнала использования команд сообщества.
package usage

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/verification-gate/internal/http/response"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
)

type Service interface {
	ListUsage(ctx context.Context, communityID string, limit int) ([]models.UsageEvent, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Журнал использования
// @Description Возвращает последние записи журнала команд сообщества, новые первыми.
// @Tags Communities
// @Produce  json
// @Param community_id path string true "ID сообщества"
// @Param limit query int false "Число записей (по умолчанию 10)"
// @Success 200 {array} models.UsageEvent
// @Failure 400 {object} response.ErrorResponse "Некорректный limit"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{community_id}/usage [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.community.usage"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	communityID := chi.URLParam(r, "community_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	events, err := h.service.ListUsage(r.Context(), communityID, limit)
	if err != nil {
		log.Error("failed to list usage", sl.Community(communityID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list usage"))
		return
	}
	if events == nil {
		events = []models.UsageEvent{}
	}
	render.JSON(w, r, response.OKWithData(events))
}
