package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/BradenHooton/lockbox/internal/services"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAccountContext puts acct into the request context as RequireSession would
func WithAccountContext(req *http.Request, acct *models.Account) *http.Request {
	return req.WithContext(auth.WithAccount(req.Context(), acct))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc func(ctx context.Context, username, email, password string) (*models.Account, error)
	LoginFunc    func(ctx context.Context, identifier, password string, meta services.LoginMeta) (*services.LoginResult, error)
	LogoutFunc   func(ctx context.Context, token string) error
}

func (m *MockAuthService) Register(ctx context.Context, username, email, password string) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrPersistence
	}
	return m.RegisterFunc(ctx, username, email, password)
}

func (m *MockAuthService) Login(ctx context.Context, identifier, password string, meta services.LoginMeta) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, identifier, password, meta)
}

func (m *MockAuthService) Logout(ctx context.Context, token string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, token)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	StatusFunc func(ctx context.Context, accountID string) (*services.AccountStatus, error)
	UnlockFunc func(ctx context.Context, accountID, actorID string, revokeSessions bool) error
}

func (m *MockAccountService) Status(ctx context.Context, accountID string) (*services.AccountStatus, error) {
	if m.StatusFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.StatusFunc(ctx, accountID)
}

func (m *MockAccountService) Unlock(ctx context.Context, accountID, actorID string, revokeSessions bool) error {
	if m.UnlockFunc == nil {
		return nil
	}
	return m.UnlockFunc(ctx, accountID, actorID, revokeSessions)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}
