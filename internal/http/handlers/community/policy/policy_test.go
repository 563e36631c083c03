package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/community"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ConfigurePolicy(ctx context.Context, req community.PolicyRequest) (models.CommunityStatus, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.CommunityStatus), args.Error(1)
}

func TestPolicyHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная настройка",
			body: `{"owner_id":"1","role_id":"900","min_age":21,"actor_id":"1"}`,
			setupMock: func(m *MockService) {
				m.On("ConfigurePolicy", mock.Anything, community.PolicyRequest{CommunityID: "10", OwnerID: "1", RoleID: "900", MinAge: 21, ActorID: "1"}).
					Return(models.CommunityStatus{CommunityID: "10", RoleID: "900", MinAge: 21}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"min_age":21`,
		},
		{
			name: "возраст по умолчанию",
			body: `{"role_id":"900"}`,
			setupMock: func(m *MockService) {
				m.On("ConfigurePolicy", mock.Anything, community.PolicyRequest{CommunityID: "10", RoleID: "900", MinAge: models.DefaultMinAge}).
					Return(models.CommunityStatus{CommunityID: "10", RoleID: "900", MinAge: 18}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"min_age":18`,
		},
		{
			name:           "нет роли",
			body:           `{"min_age":18}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field RoleID is a required field`,
		},
		{
			name:           "возраст вне диапазона",
			body:           `{"role_id":"900","min_age":300}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field MinAge is out of range`,
		},
		{
			name: "отказ сервиса",
			body: `{"role_id":"900"}`,
			setupMock: func(m *MockService) {
				m.On("ConfigurePolicy", mock.Anything, mock.Anything).
					Return(models.CommunityStatus{}, fmt.Errorf("community.ConfigurePolicy: %w", community.ErrInvalidPolicy))
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `invalid policy`,
		},
		{
			name: "ошибка хранилища",
			body: `{"role_id":"900"}`,
			setupMock: func(m *MockService) {
				m.On("ConfigurePolicy", mock.Anything, mock.Anything).Return(models.CommunityStatus{}, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `could not configure policy`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)
			handler := New(logger.Discard(), mockService)

			req := httptest.NewRequest(http.MethodPut, "/communities/10/policy", strings.NewReader(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("community_id", "10")
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}
