package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/grpc/server"
	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
)

func TestHealthClient(t *testing.T) {
	var broken atomic.Bool
	checks := map[string]server.Check{
		"postgres": func(context.Context) error {
			if broken.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	srv := server.NewHealthServer("reconciler", checks, time.Hour, logger.Discard())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Probe(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, lis) }()
	defer func() {
		cancel()
		<-done
	}()

	c, err := NewHealthClient(lis.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	t.Run("процесс обслуживает запросы", func(t *testing.T) {
		status, err := c.Check(callCtx, "reconciler")
		require.NoError(t, err)
		assert.Equal(t, "SERVING", status)
	})

	t.Run("зависимость недоступна", func(t *testing.T) {
		broken.Store(true)
		srv.Probe(callCtx)

		status, err := c.Check(callCtx, "")
		require.NoError(t, err)
		assert.Equal(t, "NOT_SERVING", status)
	})

	t.Run("неизвестный сервис", func(t *testing.T) {
		_, err := c.Check(callCtx, "unknown")
		assert.Error(t, err)
	})
}
