package handlers

import (
	"net/http"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
)

// DashboardResponse is what a signed-in account sees about itself
type DashboardResponse struct {
	Account          AccountResponse `json:"account"`
	SessionExpiresAt *time.Time      `json:"session_expires_at,omitempty"`
}

// Dashboard returns the signed-in account. Must run behind auth.RequireSession.
// @Summary Current account
// @Produce json
// @Success 200 {object} DashboardResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /dashboard [get]
func Dashboard(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	resp := DashboardResponse{Account: toAccountResponse(acct)}
	if s := auth.SessionFromContext(r.Context()); s != nil {
		expires := s.ExpiresAt.UTC()
		resp.SessionExpiresAt = &expires
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
