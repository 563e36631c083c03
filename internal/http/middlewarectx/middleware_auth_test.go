package middlewarectx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/verification-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
)

const testSecret = "test-secret"

func TestJWTMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker(testSecret, time.Hour)
	valid, err := maker.GenerateToken("discord-frontend", jwt.RoleFrontend)
	require.NoError(t, err)
	foreign, err := jwt.NewJWTMaker("other-secret", time.Hour).GenerateToken("discord-frontend", jwt.RoleFrontend)
	require.NoError(t, err)

	handlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		assert.Equal(t, "discord-frontend", middlewarectx.ClientFromContext(r.Context()))
		assert.Equal(t, jwt.RoleFrontend, r.Context().Value(middlewarectx.Role))
		w.WriteHeader(http.StatusOK)
	})
	handler := middlewarectx.JWTMiddleware(maker, logger.Discard())(nextHandler)

	tests := []struct {
		name           string
		authHeader     string
		wantStatusCode int
		wantCalled     bool
	}{
		{name: "missing Authorization header", wantStatusCode: http.StatusUnauthorized},
		{name: "invalid Authorization header prefix", authHeader: "Basic sometoken", wantStatusCode: http.StatusUnauthorized},
		{name: "garbage token", authHeader: "Bearer token", wantStatusCode: http.StatusUnauthorized},
		{name: "token signed with another secret", authHeader: "Bearer " + foreign, wantStatusCode: http.StatusUnauthorized},
		{name: "valid token", authHeader: "Bearer " + valid, wantStatusCode: http.StatusOK, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled = false
			req := httptest.NewRequest(http.MethodGet, "/somepath", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.Equal(t, tt.wantCalled, handlerCalled)
		})
	}
}

func TestRequireRole(t *testing.T) {
	maker := jwt.NewJWTMaker(testSecret, time.Hour)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := middlewarectx.JWTMiddleware(maker, logger.Discard())(
		middlewarectx.RequireRole(logger.Discard(), jwt.RoleAdmin)(next))

	tests := []struct {
		name string
		role string
		want int
	}{
		{name: "admin", role: jwt.RoleAdmin, want: http.StatusNoContent},
		{name: "frontend", role: jwt.RoleFrontend, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken("client", tt.role)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPut, "/tier", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := middlewarectx.RateLimitMiddleware(0.001, 2, logger.Discard())(next)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
