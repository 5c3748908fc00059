package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/BradenHooton/lockbox/internal/services"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, username, email, password string) (*models.Account, error)
	Login(ctx context.Context, identifier, password string, meta services.LoginMeta) (*services.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service         AuthServiceInterface
	ipConfig        *pkghttp.IPConfig
	cookies         auth.CookieConfig
	sessionLifetime time.Duration
	logger          *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AuthServiceInterface,
	ipConfig *pkghttp.IPConfig,
	cookies auth.CookieConfig,
	sessionLifetime time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:         service,
		ipConfig:        ipConfig,
		cookies:         cookies,
		sessionLifetime: sessionLifetime,
		logger:          logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=80,excludes=@"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// LoginRequest represents the request body for login. Identifier is a
// username or an email address.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required"`
}

// AccountResponse is the public view of an account
type AccountResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// LoginResponse carries the session token for clients that do not keep cookies
type LoginResponse struct {
	Account   AccountResponse `json:"account"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

func toAccountResponse(acct *models.Account) AccountResponse {
	return AccountResponse{
		ID:          acct.ID,
		Username:    acct.Username,
		Email:       acct.Email,
		Role:        acct.Role,
		CreatedAt:   acct.CreatedAt,
		LastLoginAt: acct.LastLoginAt,
	}
}

// Register handles account registration
// @Summary Account registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} AccountResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	acct, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toAccountResponse(acct))
}

// Login handles credential login
// @Summary Login with username or email
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := services.LoginMeta{
		SourceAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	}

	result, err := h.service.Login(r.Context(), req.Identifier, req.Password, meta)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, h.sessionLifetime, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Account:   toAccountResponse(result.Account),
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// Logout revokes the presented session. It succeeds even without a session.
// @Summary Logout
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.SessionTokenFromRequest(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	auth.ClearSessionCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// writeServiceError maps service errors onto HTTP replies. Invalid
// credentials never say whether the account exists.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		dup     *models.DuplicateIdentityError
		weak    *models.WeakPasswordError
		locked  *models.AccountLockedError
		limited *models.RateLimitedError
	)

	switch {
	case errors.As(err, &dup):
		pkghttp.WriteDuplicateIdentity(w, dup.Field, dup.Error())
	case errors.As(err, &weak):
		pkghttp.WriteWeakPassword(w, weak.Violations)
	case errors.As(err, &locked):
		pkghttp.WriteAccountLocked(w, "Account temporarily locked. Try again later.", locked.Remaining)
	case errors.As(err, &limited):
		pkghttp.WriteTooManyRequests(w, "Too many login attempts. Try again later.", limited.RetryAfter)
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid username or password")
	case errors.Is(err, models.ErrSessionInvalid):
		pkghttp.WriteUnauthorized(w, "Session invalid or expired")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Account not found")
	case errors.Is(err, models.ErrPersistence):
		pkghttp.WriteServiceUnavailable(w, models.ErrPersistence.Error())
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
