// Package billing принимает вебхуки биллинга и передает события фоновой обработке.
package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	billingsvc "github.com/magabrotheeeer/verification-gate/internal/services/billing"
)

// MaxBodyBytes — предельный размер тела вебхука.
const MaxBodyBytes = 1 << 20

const source = "billing"

// Parser проверяет подпись и разбирает событие.
type Parser interface {
	ParseBillingEvent(payload []byte, sigHeader string) (*models.BillingEvent, error)
}

// Dispatcher принимает событие в фоновую очередь.
type Dispatcher interface {
	Submit(ev models.BillingEvent) error
}

type Handler struct {
	log        *slog.Logger
	parser     Parser
	dispatcher Dispatcher
}

func New(log *slog.Logger, parser Parser, dispatcher Dispatcher) *Handler {
	return &Handler{
		log:        log,
		parser:     parser,
		dispatcher: dispatcher,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook.billing"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.WebhookDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
		metrics.WebhookRequestsTotal.WithLabelValues(source, strconv.Itoa(status)).Inc()
		w.WriteHeader(status)
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Warn("failed to read webhook body", sl.Err(err))
		status = http.StatusBadRequest
		return
	}

	ev, err := h.parser.ParseBillingEvent(body, r.Header.Get(paymentprovider.SignatureHeader))
	switch {
	case errors.Is(err, paymentprovider.ErrUnhandledEvent):
		log.Info("ignored webhook event", sl.Err(err))
		return
	case errors.Is(err, paymentprovider.ErrSignatureInvalid):
		log.Warn("webhook signature rejected", slog.String("remote_addr", r.RemoteAddr), sl.Err(err))
		status = http.StatusBadRequest
		return
	case err != nil:
		log.Warn("invalid webhook payload", sl.Err(err))
		status = http.StatusBadRequest
		return
	}

	if err := h.dispatcher.Submit(*ev); err != nil {
		if errors.Is(err, billingsvc.ErrQueueFull) {
			log.Warn("billing queue is full, provider will retry", sl.Event(ev.EventID, string(ev.Type)))
			status = http.StatusServiceUnavailable
			return
		}
		log.Error("failed to submit billing event", sl.Err(err))
		status = http.StatusInternalServerError
		return
	}
	log.Info("webhook accepted", sl.Event(ev.EventID, string(ev.Type)), sl.Community(ev.CommunityID))
}
