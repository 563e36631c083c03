// Package server поднимает gRPC-сервер проверки здоровья для фоновых процессов.
//
// HealthServer публикует стандартный сервис grpc.health.v1 и периодически
// переводит статус в NOT_SERVING, если одна из зависимостей недоступна.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
)

// Check проверяет одну зависимость процесса.
type Check func(ctx context.Context) error

// HealthServer реализует gRPC-сервис здоровья.
type HealthServer struct {
	service  string
	health   *health.Server
	grpc     *grpc.Server
	checks   map[string]Check
	interval time.Duration
	log      *slog.Logger
}

// NewHealthServer создает сервер для сервиса service. Пустое имя означает общий статус процесса.
func NewHealthServer(service string, checks map[string]Check, interval time.Duration, logger *slog.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{
		service:  service,
		health:   hs,
		grpc:     srv,
		checks:   checks,
		interval: interval,
		log:      logger,
	}
}

// Probe выполняет все проверки и обновляет статус. Возвращает итоговый статус.
func (s *HealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("dependency is unhealthy", slog.String("dependency", name), sl.Err(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	if s.service != "" {
		s.health.SetServingStatus(s.service, status)
	}
	return status
}

// Serve слушает addr до отмены ctx.
func (s *HealthServer) Serve(ctx context.Context, addr string) error {
	const op = "grpc.server.Serve"
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener обслуживает готовый listener до отмены ctx.
func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	const op = "grpc.server.ServeListener"
	s.Probe(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Probe(ctx)
			}
		}
	}()

	s.log.Info("gRPC health server starting on", slog.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
