// Package policy реализует HTTP-обработчик настройки роли и минимального возраста сообщества.
package policy

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

	"github.com/magabrotheeeer/verification-gate/internal/http/response"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/community"
)

// Service описывает интерфейс настройки политики.
type Service interface {
	ConfigurePolicy(ctx context.Context, req community.PolicyRequest) (models.CommunityStatus, error)
}

// Body — тело запроса. Без min_age используется возраст по умолчанию.
type Body struct {
	OwnerID string `json:"owner_id" validate:"omitempty,numeric"`
	RoleID  string `json:"role_id" validate:"required,numeric"`
	MinAge  *int   `json:"min_age" validate:"omitempty,min=0,max=125"`
	ActorID string `json:"actor_id" validate:"omitempty,numeric"`
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Настроить политику сообщества
// @Description Создает сообщество при первом вызове и сохраняет выдаваемую роль и минимальный возраст.
// @Tags Communities
// @Accept  json
// @Produce  json
// @Param community_id path string true "ID сообщества"
// @Param request body Body true "Роль и возраст"
// @Success 200 {object} models.CommunityStatus
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{community_id}/policy [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.community.policy"
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
	minAge := models.DefaultMinAge
	if req.MinAge != nil {
		minAge = *req.MinAge
	}

	status, err := h.service.ConfigurePolicy(r.Context(), community.PolicyRequest{
		CommunityID: communityID,
		OwnerID:     req.OwnerID,
		RoleID:      req.RoleID,
		MinAge:      minAge,
		ActorID:     req.ActorID,
	})
	if errors.Is(err, community.ErrInvalidPolicy) {
		log.Warn("invalid policy", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	if err != nil {
		log.Error("failed to configure policy", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not configure policy"))
		return
	}

	render.JSON(w, r, response.OKWithData(status))
}
