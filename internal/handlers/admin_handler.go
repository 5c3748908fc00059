package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/services"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AccountServiceInterface defines admin account operations
type AccountServiceInterface interface {
	Status(ctx context.Context, accountID string) (*services.AccountStatus, error)
	Unlock(ctx context.Context, accountID, actorID string, revokeSessions bool) error
}

// AdminHandler serves the admin-only account endpoints
type AdminHandler struct {
	service AccountServiceInterface
}

func NewAdminHandler(service AccountServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// UnlockRequest is the optional body of an unlock call
type UnlockRequest struct {
	RevokeSessions bool `json:"revoke_sessions"`
}

// AccountStatusResponse is the admin view of an account's lockout state
type AccountStatusResponse struct {
	Account                 AccountResponse `json:"account"`
	State                   string          `json:"state"`
	FailedAttempts          int             `json:"failed_attempts"`
	LockedUntil             *time.Time      `json:"locked_until,omitempty"`
	RemainingLockoutSeconds int             `json:"remaining_lockout_seconds"`
}

// GetAccountStatus returns the lockout state of an account
// @Summary Account lockout status (admin)
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} AccountStatusResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/accounts/{id} [get]
func (h *AdminHandler) GetAccountStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	remaining := int(status.RemainingLockout / time.Second)
	if status.RemainingLockout%time.Second > 0 {
		remaining++
	}

	pkghttp.WriteJSON(w, http.StatusOK, AccountStatusResponse{
		Account:                 toAccountResponse(status.Account),
		State:                   status.State.String(),
		FailedAttempts:          status.Account.FailedAttempts,
		LockedUntil:             status.Account.LockedUntil,
		RemainingLockoutSeconds: remaining,
	})
}

// UnlockAccount clears the lockout of an account
// @Summary Unlock account (admin)
// @Accept json
// @Param id path string true "Account ID"
// @Param request body UnlockRequest false "Unlock options"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/accounts/{id}/unlock [post]
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	actorID := ""
	if actor := auth.AccountFromContext(r.Context()); actor != nil {
		actorID = actor.ID
	}

	if err := h.service.Unlock(r.Context(), chi.URLParam(r, "id"), actorID, req.RevokeSessions); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Account unlocked"})
}
