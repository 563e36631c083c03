package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	// Регистрация сгенерированной документации Swagger.
	_ "github.com/magabrotheeeer/verification-gate/docs"
	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/community/policy"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/community/status"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/community/tier"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/community/usage"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/health"
	"github.com/magabrotheeeer/verification-gate/internal/http/handlers/verification/request"
	"github.com/magabrotheeeer/verification-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/verification-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

// CommunityService — команды сообщества, доступные через API.
type CommunityService interface {
	policy.Service
	status.Service
	tier.Service
	usage.Service
}

// Deps — зависимости маршрутов командного API.
type Deps struct {
	Verification request.Service
	Community    CommunityService
	Tokens       middlewarectx.TokenParser
	RateLimit    float64
	RateBurst    int
	Checks       map[string]health.Check
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))
		r.Use(middlewarectx.RateLimitMiddleware(d.RateLimit, d.RateBurst, logger))

		r.Post("/communities/{community_id}/verifications", request.New(logger, d.Verification).ServeHTTP)
		r.Put("/communities/{community_id}/policy", policy.New(logger, d.Community).ServeHTTP)
		r.Get("/communities/{community_id}", status.New(logger, d.Community).ServeHTTP)
		r.Get("/communities/{community_id}/usage", usage.New(logger, d.Community).ServeHTTP)

		// Смена уровня в обход биллинга доступна только оператору.
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RequireRole(logger, jwt.RoleAdmin))
			r.Put("/communities/{community_id}/tier", tier.New(logger, d.Community).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, d.Checks).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

func healthChecks(db *repository.Storage, c *cache.Cache) map[string]health.Check {
	return map[string]health.Check{
		"postgres": db.Ping,
		"redis":    func(ctx context.Context) error { return c.Db.Ping(ctx).Err() },
	}
}
