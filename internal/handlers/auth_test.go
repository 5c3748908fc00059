package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/handlers"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/BradenHooton/lockbox/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newAuthHandler(svc handlers.AuthServiceInterface) *handlers.AuthHandler {
	return handlers.NewAuthHandler(
		svc,
		nil,
		auth.CookieConfig{SameSite: "lax"},
		30*time.Minute,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func aliceAccount() *models.Account {
	return &models.Account{
		ID:        "acct-1",
		Username:  "alice",
		Email:     "alice@x.com",
		Role:      models.RoleUser,
		CreatedAt: created,
	}
}

func validRegistration() handlers.RegisterRequest {
	return handlers.RegisterRequest{
		Username:        "alice",
		Email:           "alice@x.com",
		Password:        "Abcdef1!",
		ConfirmPassword: "Abcdef1!",
	}
}

// ============================================================================
// Register
// ============================================================================

func TestRegister_Success(t *testing.T) {
	var gotUsername, gotEmail, gotPassword string
	mock := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, username, email, password string) (*models.Account, error) {
			gotUsername, gotEmail, gotPassword = username, email, password
			return aliceAccount(), nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/auth/register", validRegistration())
	w := httptest.NewRecorder()
	newAuthHandler(mock).Register(w, req)

	var resp handlers.AccountResponse
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "acct-1", resp.ID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "alice@x.com", resp.Email)
	assert.NotContains(t, w.Body.String(), "password")

	assert.Equal(t, "alice", gotUsername)
	assert.Equal(t, "alice@x.com", gotEmail)
	assert.Equal(t, "Abcdef1!", gotPassword)
}

func TestRegister_InvalidBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/register", nil)
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}).Register(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *handlers.RegisterRequest)
		field  string
	}{
		{"short username", func(r *handlers.RegisterRequest) { r.Username = "al" }, "username"},
		{"email-shaped username", func(r *handlers.RegisterRequest) { r.Username = "victim@x.com" }, "username"},
		{"missing email", func(r *handlers.RegisterRequest) { r.Email = "" }, "email"},
		{"bad email", func(r *handlers.RegisterRequest) { r.Email = "not-an-email" }, "email"},
		{"confirmation mismatch", func(r *handlers.RegisterRequest) { r.ConfirmPassword = "Abcdef1?" }, "confirm_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mock := &handlers.MockAuthService{
				RegisterFunc: func(ctx context.Context, username, email, password string) (*models.Account, error) {
					called = true
					return aliceAccount(), nil
				},
			}

			body := validRegistration()
			tt.mutate(&body)
			w := httptest.NewRecorder()
			newAuthHandler(mock).Register(w, handlers.NewTestRequest(t, "POST", "/auth/register", body))

			resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
			assert.Contains(t, resp.Message, tt.field)
			assert.False(t, called)
		})
	}
}

func TestRegister_ServiceErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		errorCode string
		check     func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:      "duplicate username",
			err:       &models.DuplicateIdentityError{Field: models.FieldUsername},
			status:    http.StatusConflict,
			errorCode: "duplicate_identity",
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Body.String(), `"field":"username"`)
			},
		},
		{
			name:      "weak password",
			err:       &models.WeakPasswordError{Violations: []string{"must contain a digit", "must contain a symbol"}},
			status:    http.StatusUnprocessableEntity,
			errorCode: "weak_password",
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Body.String(), "must contain a digit")
				assert.Contains(t, w.Body.String(), "must contain a symbol")
			},
		},
		{
			name:      "persistence",
			err:       models.ErrPersistence,
			status:    http.StatusServiceUnavailable,
			errorCode: "temporarily_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				RegisterFunc: func(ctx context.Context, username, email, password string) (*models.Account, error) {
					return nil, tt.err
				},
			}

			w := httptest.NewRecorder()
			newAuthHandler(mock).Register(w, handlers.NewTestRequest(t, "POST", "/auth/register", validRegistration()))

			handlers.AssertErrorResponse(t, w, tt.status, tt.errorCode)
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_SuccessSetsCookie(t *testing.T) {
	var gotMeta services.LoginMeta
	expires := created.Add(30 * time.Minute)
	mock := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password string, meta services.LoginMeta) (*services.LoginResult, error) {
			gotMeta = meta
			assert.Equal(t, "alice", identifier)
			return &services.LoginResult{Account: aliceAccount(), Token: "signed.session.token", ExpiresAt: expires}, nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Identifier: "alice", Password: "Abcdef1!"})
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("User-Agent", "go-test")
	w := httptest.NewRecorder()
	newAuthHandler(mock).Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "signed.session.token", resp.Token)
	assert.Equal(t, "alice", resp.Account.Username)
	assert.True(t, expires.Equal(resp.ExpiresAt))

	assert.Equal(t, "203.0.113.7", gotMeta.SourceAddress)
	assert.Equal(t, "go-test", gotMeta.UserAgent)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.SessionCookieName, cookies[0].Name)
	assert.Equal(t, "signed.session.token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 1800, cookies[0].MaxAge)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		errorCode  string
		retryAfter string
	}{
		{"invalid credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized", ""},
		{"locked", &models.AccountLockedError{Remaining: 900 * time.Second}, http.StatusLocked, "account_locked", "900"},
		{"locked rounds up", &models.AccountLockedError{Remaining: 1500 * time.Millisecond}, http.StatusLocked, "account_locked", "2"},
		{"rate limited", &models.RateLimitedError{RetryAfter: 42 * time.Second}, http.StatusTooManyRequests, "rate_limit_exceeded", "42"},
		{"persistence", models.ErrPersistence, http.StatusServiceUnavailable, "temporarily_unavailable", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, identifier, password string, meta services.LoginMeta) (*services.LoginResult, error) {
					return nil, tt.err
				},
			}

			req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Identifier: "alice", Password: "nope"})
			w := httptest.NewRecorder()
			newAuthHandler(mock).Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.errorCode)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestLogin_UnknownAndWrongPasswordAreIdentical(t *testing.T) {
	mock := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password string, meta services.LoginMeta) (*services.LoginResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	h := newAuthHandler(mock)

	w1 := httptest.NewRecorder()
	h.Login(w1, handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Identifier: "mallory", Password: "x"}))
	w2 := httptest.NewRecorder()
	h.Login(w2, handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Identifier: "alice", Password: "x"}))

	assert.Equal(t, w1.Code, w2.Code)
	assert.Equal(t, w1.Body.String(), w2.Body.String())
}

func TestLogin_MissingFields(t *testing.T) {
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Identifier: "alice"})
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}).Login(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Contains(t, resp.Message, "password")
}

// ============================================================================
// Logout
// ============================================================================

func TestLogout_RevokesCookieSession(t *testing.T) {
	var revoked string
	mock := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, token string) error {
			revoked = token
			return nil
		},
	}

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	newAuthHandler(mock).Logout(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "tok", revoked)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestLogout_BearerToken(t *testing.T) {
	var revoked string
	mock := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, token string) error {
			revoked = token
			return nil
		},
	}

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer tok-2")
	w := httptest.NewRecorder()
	newAuthHandler(mock).Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok-2", revoked)
}

func TestLogout_WithoutSession(t *testing.T) {
	called := false
	mock := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, token string) error {
			called = true
			return nil
		},
	}

	w := httptest.NewRecorder()
	newAuthHandler(mock).Logout(w, httptest.NewRequest("POST", "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
}

func TestLogout_StoreFailure(t *testing.T) {
	mock := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, token string) error {
			return models.ErrPersistence
		},
	}

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	newAuthHandler(mock).Logout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "temporarily_unavailable")
}
