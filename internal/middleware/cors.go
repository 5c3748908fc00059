package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int
}

// CORS allows browser clients on AllowedOrigins to send the session cookie
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = 300
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           maxAge,
	})
}
