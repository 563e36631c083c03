// Package sweeper собирает процесс периодического отключения просроченных подписок.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/grpc/server"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/lib/smtp"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/services/sender"
	sweeperservice "github.com/magabrotheeeer/verification-gate/internal/services/sweeper"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

const serviceName = "sweeper"

// App представляет приложение периодической проверки.
type App struct {
	sweeper *sweeperservice.Sweeper
	db      *repository.Storage
	cache   *cache.Cache
	health  *server.HealthServer
	cfg     *config.Config
	logger  *slog.Logger
}

// New создает новый экземпляр приложения периодической проверки.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	sw, db, cacheRedis, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	health := server.NewHealthServer(serviceName, map[string]server.Check{
		"postgres": db.Ping,
		"redis":    func(ctx context.Context) error { return cacheRedis.Db.Ping(ctx).Err() },
	}, 0, logger)

	return &App{
		sweeper: sw,
		db:      db,
		cache:   cacheRedis,
		health:  health,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Build подключает хранилище, кэш и почту и собирает Sweeper.
// Используется и процессом, и разовым запуском из командной строки.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sweeperservice.Sweeper, *repository.Storage, *cache.Cache, error) {
	const op = "app.sweeper.Build"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := repository.CheckDatabaseReady(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var notifier sweeperservice.Notifier
	if cfg.SMTP.SMTPHost != "" {
		notifier = sender.NewSenderService(smtp.NewTransport(cfg.SMTP), logger)
	} else {
		logger.Warn("smtp is not configured, lapse notices are disabled")
	}

	sw := sweeperservice.New(db, notifier, cacheRedis, cfg.Sweeper.Interval, cfg.Sweeper.Staleness, logger)
	return sw, db, cacheRedis, nil
}

// Run выполняет проверку по расписанию до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})
	g.Go(func() error {
		return a.health.Serve(gctx, a.cfg.GRPCHealthAddress)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, a.cfg.MetricsAddress, a.logger)
	})

	err := g.Wait()

	a.logger.Info("shutting down sweeper service")
	if cerr := a.cache.Close(); cerr != nil {
		a.logger.Error("failed to close redis", sl.Err(cerr))
	}
	if cerr := a.db.Close(); cerr != nil {
		a.logger.Error("failed to close storage", sl.Err(cerr))
	}
	return err
}
