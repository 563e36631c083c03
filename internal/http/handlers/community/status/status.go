// Package status реализует HTTP-обработчик просмотра состояния сообщества.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/verification-gate/internal/http/response"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/community"
)

type Service interface {
	GetStatus(ctx context.Context, communityID string) (models.CommunityStatus, error)
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
// @Summary Состояние сообщества
// @Description Возвращает уровень, статус подписки, остаток квоты, роль и минимальный возраст.
// @Tags Communities
// @Produce  json
// @Param community_id path string true "ID сообщества"
// @Success 200 {object} models.CommunityStatus
// @Failure 404 {object} response.ErrorResponse "Сообщество не найдено"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{community_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.community.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	communityID := chi.URLParam(r, "community_id")
	st, err := h.service.GetStatus(r.Context(), communityID)
	if errors.Is(err, community.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("community not found"))
		return
	}
	if err != nil {
		log.Error("failed to get community status", sl.Community(communityID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get community status"))
		return
	}
	render.JSON(w, r, response.OKWithData(st))
}
