// Package tier реализует HTTP-обработчик ручной выдачи уровня подписки.
// Доступен только клиентам с ролью admin.
package tier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/verification-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/verification-gate/internal/http/response"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/billing"
)

type Service interface {
	SetTier(ctx context.Context, communityID string, tier models.Tier, actorID string) (models.CommunityStatus, error)
}

// Body — тело запроса.
type Body struct {
	Tier    string `json:"tier" validate:"required,oneof=tier_0 tier_1 tier_2 tier_3 tier_4 tier_5 tier_6"`
	ActorID string `json:"actor_id"`
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Выдать уровень подписки
// @Description Выдает уровень по правилам оплаты: квота пополняется на потолок уровня.
// @Tags Communities
// @Accept  json
// @Produce  json
// @Param community_id path string true "ID сообщества"
// @Param request body Body true "Уровень"
// @Success 200 {object} models.CommunityStatus
// @Failure 403 {object} response.ErrorResponse "Нужна роль admin"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{community_id}/tier [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.community.tier"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	communityID := chi.URLParam(r, "community_id")
	var req Body
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = middlewarectx.ClientFromContext(r.Context())
	}

	st, err := h.service.SetTier(r.Context(), communityID, models.Tier(req.Tier), actor)
	if errors.Is(err, billing.ErrInvalidTier) || errors.Is(err, billing.ErrMissingCommunity) {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	if err != nil {
		log.Error("failed to set tier", sl.Community(communityID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not set tier"))
		return
	}

	log.Info("tier set", sl.Community(communityID), slog.String("tier", req.Tier), slog.String("actor", actor))
	render.JSON(w, r, response.OKWithData(st))
}
