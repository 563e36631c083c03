package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/community"
	"github.com/magabrotheeeer/verification-gate/internal/services/verification"
)

type MockVerification struct {
	mock.Mock
}

func (m *MockVerification) RequestVerification(ctx context.Context, req verification.Request) (verification.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(verification.Result), args.Error(1)
}

type MockCommunity struct {
	mock.Mock
}

func (m *MockCommunity) ConfigurePolicy(ctx context.Context, req community.PolicyRequest) (models.CommunityStatus, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.CommunityStatus), args.Error(1)
}

func (m *MockCommunity) GetStatus(ctx context.Context, communityID string) (models.CommunityStatus, error) {
	args := m.Called(ctx, communityID)
	return args.Get(0).(models.CommunityStatus), args.Error(1)
}

func (m *MockCommunity) SetTier(ctx context.Context, communityID string, tier models.Tier, actorID string) (models.CommunityStatus, error) {
	args := m.Called(ctx, communityID, tier, actorID)
	return args.Get(0).(models.CommunityStatus), args.Error(1)
}

func (m *MockCommunity) ListUsage(ctx context.Context, communityID string, limit int) ([]models.UsageEvent, error) {
	args := m.Called(ctx, communityID, limit)
	events, _ := args.Get(0).([]models.UsageEvent)
	return events, args.Error(1)
}

func TestRoutes(t *testing.T) {
	maker := jwt.NewJWTMaker("routes-secret", time.Hour)
	frontend, err := maker.GenerateToken("discord-bot", jwt.RoleFrontend)
	require.NoError(t, err)
	admin, err := maker.GenerateToken("ops", jwt.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		token          string
		setupMocks     func(*MockVerification, *MockCommunity)
		expectedStatus int
	}{
		{
			name:           "без токена",
			method:         http.MethodGet,
			path:           "/api/v1/communities/10",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "статус сообщества",
			method: http.MethodGet,
			path:   "/api/v1/communities/10",
			token:  frontend,
			setupMocks: func(_ *MockVerification, c *MockCommunity) {
				c.On("GetStatus", mock.Anything, "10").Return(models.CommunityStatus{CommunityID: "10"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "запрос проверки",
			method: http.MethodPost,
			path:   "/api/v1/communities/10/verifications",
			body:   `{"member_id":"20"}`,
			token:  frontend,
			setupMocks: func(v *MockVerification, _ *MockCommunity) {
				v.On("RequestVerification", mock.Anything, verification.Request{CommunityID: "10", MemberID: "20"}).
					Return(verification.Result{OK: true, SessionURL: "https://verify.example/s"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "смена уровня без прав оператора",
			method:         http.MethodPut,
			path:           "/api/v1/communities/10/tier",
			body:           `{"tier":"tier_2"}`,
			token:          frontend,
			expectedStatus: http.StatusForbidden,
		},
		{
			name:   "смена уровня оператором",
			method: http.MethodPut,
			path:   "/api/v1/communities/10/tier",
			body:   `{"tier":"tier_2","actor_id":"ops"}`,
			token:  admin,
			setupMocks: func(_ *MockVerification, c *MockCommunity) {
				c.On("SetTier", mock.Anything, "10", models.Tier2, "ops").Return(models.CommunityStatus{CommunityID: "10", Tier: models.Tier2}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "health без токена",
			method:         http.MethodGet,
			path:           "/health",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := new(MockVerification)
			c := new(MockCommunity)
			if tt.setupMocks != nil {
				tt.setupMocks(v, c)
			}

			router := chi.NewRouter()
			RegisterRoutes(router, logger.Discard(), Deps{
				Verification: v,
				Community:    c,
				Tokens:       maker,
				RateLimit:    100,
				RateBurst:    100,
			})

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			v.AssertExpectations(t)
			c.AssertExpectations(t)
		})
	}
}
