// Package reconciler собирает процесс-потребитель очереди результатов проверки.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/discord"
	"github.com/magabrotheeeer/verification-gate/internal/grpc/server"
	"github.com/magabrotheeeer/verification-gate/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/lib/vault"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	reconcilerservice "github.com/magabrotheeeer/verification-gate/internal/services/reconciler"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

const serviceName = "reconciler"

// App представляет приложение обработки результатов.
type App struct {
	reconciler *reconcilerservice.Reconciler
	conn       *amqp.Connection
	ch         *amqp.Channel
	db         *repository.Storage
	cache      *cache.Cache
	health     *server.HealthServer
	cfg        *config.Config
	logger     *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range 10 {
		if err = repository.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

// New создает новый экземпляр приложения обработки результатов.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	v, err := vault.New(cfg.Vault.DOBKey)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.DialRetries, cfg.RabbitMQ.DialDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Prefetch, rabbitmq.NewTopology(cfg.RabbitMQ.Queue))
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		closeResources(ch, conn, logger)
		_ = db.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		_ = db.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	rec := reconcilerservice.New(
		db,
		paymentprovider.NewClient(cfg.Stripe),
		v,
		discord.New(cfg.Discord.BotToken),
		cacheRedis,
		logger,
	)

	health := server.NewHealthServer(serviceName, map[string]server.Check{
		"postgres": db.Ping,
		"rabbitmq": func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}, 0, logger)

	return &App{
		reconciler: rec,
		conn:       conn,
		ch:         ch,
		db:         db,
		cache:      cacheRedis,
		health:     health,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run потребляет очередь до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rabbitmq.ConsumerMessage(gctx, a.ch, rabbitmq.ConsumerConfig{
			Queue:        a.cfg.RabbitMQ.Queue,
			Workers:      a.cfg.RabbitMQ.Prefetch,
			RequeueDelay: a.cfg.RabbitMQ.RequeueDelay,
		}, a.reconciler.Handle, a.logger)
	})
	g.Go(func() error {
		return a.health.Serve(gctx, a.cfg.GRPCHealthAddress)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, a.cfg.MetricsAddress, a.logger)
	})

	err := g.Wait()

	a.logger.Info("shutting down reconciler service")
	closeResources(a.ch, a.conn, a.logger)
	if cerr := a.cache.Close(); cerr != nil {
		a.logger.Error("failed to close redis", sl.Err(cerr))
	}
	if cerr := a.db.Close(); cerr != nil {
		a.logger.Error("failed to close storage", sl.Err(cerr))
	}
	return err
}
