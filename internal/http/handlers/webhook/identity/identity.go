// Package identity принимает вебхуки провайдера проверки личности и ставит
// результаты в очередь. Провайдер получает ответ сразу после проверки подписи
// и записи в очередь или outbox.
package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
)

// MaxBodyBytes — предельный размер тела вебхука.
const MaxBodyBytes = 1 << 20

const source = "identity"

// Parser проверяет подпись и разбирает событие.
type Parser interface {
	ParseIdentityEvent(payload []byte, sigHeader string) (*paymentprovider.IdentityEvent, error)
}

// Relay переносит событие в очередь.
type Relay interface {
	Relay(ctx context.Context, ev *paymentprovider.IdentityEvent) error
}

type Handler struct {
	log    *slog.Logger
	parser Parser
	relay  Relay
}

func New(log *slog.Logger, parser Parser, relay Relay) *Handler {
	return &Handler{
		log:    log,
		parser: parser,
		relay:  relay,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook.identity"
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

	ev, err := h.parser.ParseIdentityEvent(body, r.Header.Get(paymentprovider.SignatureHeader))
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

	if err := h.relay.Relay(r.Context(), ev); err != nil {
		log.Error("failed to relay verification result", sl.Event(ev.EventID, string(ev.Outcome)), sl.Err(err))
		status = http.StatusInternalServerError
		return
	}
	log.Info("webhook accepted", sl.Event(ev.EventID, string(ev.Outcome)))
}
