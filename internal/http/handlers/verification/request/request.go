// Package request реализует HTTP-обработчик запроса участника на проверку возраста.
//
// Отказы по политике сообщества возвращаются со статусом 200 и ok=false:
// это штатный ответ, который фронтенд показывает участнику.
package request

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/verification-gate/internal/http/response"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/services/verification"
)

// Service описывает интерфейс обработчика запросов проверки.
type Service interface {
	RequestVerification(ctx context.Context, req verification.Request) (verification.Result, error)
}

// Body — тело запроса.
type Body struct {
	MemberID  string `json:"member_id" validate:"required,numeric"`
	ChannelID string `json:"channel_id" validate:"omitempty,numeric"`
}

// Handler управляет HTTP-запросами на проверку.
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
// @Summary Запросить проверку возраста
// @Description Проверяет политику сообщества и возвращает ссылку на сессию проверки либо причину отказа.
// @Tags Verification
// @Accept  json
// @Produce  json
// @Param community_id path string true "ID сообщества"
// @Param request body Body true "Участник и канал"
// @Success 200 {object} verification.Result
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет токена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{community_id}/verifications [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.verification.request"
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

	res, err := h.service.RequestVerification(r.Context(), verification.Request{
		CommunityID: communityID,
		MemberID:    req.MemberID,
		ChannelID:   req.ChannelID,
	})
	if err != nil {
		metrics.VerificationRequestsTotal.WithLabelValues("error").Inc()
		log.Error("failed to process verification request", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not process verification request"))
		return
	}

	metrics.VerificationRequestsTotal.WithLabelValues(outcome(res)).Inc()
	log.Info("verification request handled", sl.Community(communityID), sl.Member(req.MemberID),
		slog.Bool("ok", res.OK), slog.String("reason", string(res.Reason)))
	render.JSON(w, r, response.OKWithData(res))
}

func outcome(res verification.Result) string {
	switch {
	case res.Regranted:
		return "regrant"
	case res.OK:
		return "ok"
	default:
		return string(res.Reason)
	}
}
