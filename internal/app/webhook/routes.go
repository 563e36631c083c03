package webhook

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/health"
	webhookbilling "github.com/magabrotheeeer/verification-gate/internal/http/handlers/webhook/billing"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/webhook/identity"
)

// Parser проверяет подписи вебхуков обоих источников.
type Parser interface {
	identity.Parser
	webhookbilling.Parser
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes регистрирует маршруты вебхуков. Аутентификация — подпись тела.
func RegisterRoutes(r chi.Router, logger *slog.Logger, parser Parser, relay identity.Relay, dispatcher webhookbilling.Dispatcher, db Pinger) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/identity", identity.New(logger, parser, relay).ServeHTTP)
		r.Post("/billing", webhookbilling.New(logger, parser, dispatcher).ServeHTTP)
	})

	r.Get("/health", health.New(logger, map[string]health.Check{
		"postgres": db.Ping,
	}).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
