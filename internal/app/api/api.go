// Package api собирает процесс командного HTTP-интерфейса: запросы проверки,
// политика, статус, уровень подписки и журнал использования сообщества.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/discord"
	"github.com/magabrotheeeer/verification-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/lib/vault"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	"github.com/magabrotheeeer/verification-gate/internal/services/billing"
	"github.com/magabrotheeeer/verification-gate/internal/services/community"
	"github.com/magabrotheeeer/verification-gate/internal/services/verification"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.api.New"

	v, err := vault.New(cfg.Vault.DOBKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := repository.CheckDatabaseReady(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	provider := paymentprovider.NewClient(cfg.Stripe)
	platform := discord.New(cfg.Discord.BotToken)

	verificationService := verification.New(db, provider, platform, v, verification.Config{
		Cooldown:               cfg.Verification.Cooldown,
		ReservationTTL:         cfg.Verification.ReservationTTL,
		ResetCooldownOnRestart: cfg.Verification.ResetCooldownOnRestart,
		ProcessEpoch:           time.Now(),
	}, logger)

	processor, err := billing.NewProcessor(db, provider, cfg.Billing.Plans, cacheRedis, logger)
	if err != nil {
		_ = db.Close()
		_ = cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	communityService := community.New(db, cacheRedis, processor, cfg.RedisConnection.StatusTTL, logger)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Verification: verificationService,
		Community:    communityService,
		Tokens:       jwtMaker,
		RateLimit:    cfg.HTTPServer.RateLimit,
		RateBurst:    cfg.HTTPServer.RateBurst,
		Checks:       healthChecks(db, cacheRedis),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.TimeoutHTTP,
		WriteTimeout: cfg.HTTPServer.TimeoutHTTP,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		cache:  cacheRedis,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}

	if cerr := a.cache.Close(); cerr != nil {
		a.logger.Error("failed to close redis", sl.Err(cerr))
	}
	if cerr := a.db.Close(); cerr != nil {
		a.logger.Error("failed to close storage", sl.Err(cerr))
	}
	return err
}
