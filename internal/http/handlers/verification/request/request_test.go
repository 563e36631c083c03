package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/services/verification"
)

// MockService реализует интерфейс request.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) RequestVerification(ctx context.Context, req verification.Request) (verification.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(verification.Result), args.Error(1)
}

func TestRequestHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешный запрос",
			body: `{"member_id":"20","channel_id":"30"}`,
			setupMock: func(m *MockService) {
				m.On("RequestVerification", mock.Anything, verification.Request{CommunityID: "10", MemberID: "20", ChannelID: "30"}).
					Return(verification.Result{OK: true, SessionURL: "https://verify.example/s"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"session_url":"https://verify.example/s"`,
		},
		{
			name: "отказ по политике",
			body: `{"member_id":"20"}`,
			setupMock: func(m *MockService) {
				m.On("RequestVerification", mock.Anything, mock.Anything).
					Return(verification.Result{Reason: verification.ReasonCooldown, Message: "wait"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"reason":"cooldown"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "нет участника",
			body:           `{"channel_id":"30"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field MemberID is a required field`,
		},
		{
			name: "ошибка хранилища",
			body: `{"member_id":"20"}`,
			setupMock: func(m *MockService) {
				m.On("RequestVerification", mock.Anything, mock.Anything).
					Return(verification.Result{}, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `could not process verification request`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)
			handler := New(logger.Discard(), mockService)

			req := httptest.NewRequest(http.MethodPost, "/communities/10/verifications", strings.NewReader(tt.body))
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
