// Package webhook собирает процесс приема вебхуков провайдера: результаты
// проверки личности ретранслируются в очередь, события биллинга
// обрабатываются фоновыми воркерами.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/lib/vault"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	"github.com/magabrotheeeer/verification-gate/internal/services/billing"
	"github.com/magabrotheeeer/verification-gate/internal/services/relay"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

// App — процесс приема вебхуков.
type App struct {
	server          *http.Server
	logger          *slog.Logger
	db              *repository.Storage
	cache           *cache.Cache
	publisher       *rabbitmq.Publisher
	relay           *relay.Relay
	dispatcher      *billing.Dispatcher
	redriveInterval time.Duration
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.webhook.New"

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
	processor, err := billing.NewProcessor(db, provider, cfg.Billing.Plans, cacheRedis, logger)
	if err != nil {
		_ = db.Close()
		_ = cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	dispatcher := billing.NewDispatcher(processor, billing.DispatcherConfig{
		Workers:   cfg.Billing.Workers,
		QueueSize: cfg.Billing.QueueSize,
	}, logger)

	publisher := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
		URL:            cfg.RabbitMQ.URL,
		Topology:       rabbitmq.NewTopology(cfg.RabbitMQ.Queue),
		Attempts:       cfg.RabbitMQ.PublishAttempts,
		ConfirmTimeout: cfg.RabbitMQ.PublishTimeout,
	}, logger)
	relayService := relay.New(publisher, db, v, logger)

	parser := paymentprovider.NewWebhookParser(cfg.Stripe.IdentityWebhookSecret, cfg.Stripe.BillingWebhookSecret)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, parser, relayService, dispatcher, db)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.TimeoutHTTP,
		WriteTimeout: cfg.HTTPServer.TimeoutHTTP,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &App{
		server:          srv,
		logger:          logger,
		db:              db,
		cache:           cacheRedis,
		publisher:       publisher,
		relay:           relayService,
		dispatcher:      dispatcher,
		redriveInterval: cfg.RabbitMQ.RedriveInterval,
	}, nil
}

// Run обслуживает вебхуки до отмены ctx. Воркеры биллинга останавливаются
// только после остановки HTTP-сервера, чтобы принятые события не терялись.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	g.Go(func() error {
		return a.dispatcher.Run(workersCtx)
	})
	g.Go(func() error {
		return a.relay.RunRedrive(gctx, a.redriveInterval)
	})
	g.Go(func() error {
		defer stopWorkers()
		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
			errCh <- a.server.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-gctx.Done():
			timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			a.logger.Info("shutting down HTTP server gracefully")
			return a.server.Shutdown(timeoutCtx)
		}
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("failed to close publisher", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
