package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// Health returns a handler that reports store health
func Health(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Storage: "unavailable"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Storage: "ok"})
	}
}
