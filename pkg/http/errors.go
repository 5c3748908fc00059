package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
	// RetryAfterSeconds is set on lockout and rate-limit replies
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	Violations        []string `json:"violations,omitempty"`
	Field             string   `json:"field,omitempty"`
}

// WriteJSON writes v as JSON with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message, Details: details})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteServiceUnavailable is used for storage failures; message must not carry driver detail
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "temporarily_unavailable", message)
}

// WriteDuplicateIdentity reports which identity field is already registered
func WriteDuplicateIdentity(w http.ResponseWriter, field, message string) {
	WriteJSON(w, http.StatusConflict, ErrorResponse{
		Error:   "duplicate_identity",
		Message: message,
		Field:   field,
	})
}

// WriteWeakPassword lists every password rule the submission failed
func WriteWeakPassword(w http.ResponseWriter, violations []string) {
	WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:      "weak_password",
		Message:    "password does not meet the policy",
		Violations: violations,
	})
}

// WriteAccountLocked replies 423 with the remaining lockout time
func WriteAccountLocked(w http.ResponseWriter, message string, retryAfter time.Duration) {
	secs := ceilSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, http.StatusLocked, ErrorResponse{
		Error:             "account_locked",
		Message:           message,
		RetryAfterSeconds: secs,
	})
}

// WriteTooManyRequests replies 429 with a Retry-After hint when one is known
func WriteTooManyRequests(w http.ResponseWriter, message string, retryAfter time.Duration) {
	resp := ErrorResponse{Error: "rate_limit_exceeded", Message: message}
	if retryAfter > 0 {
		resp.RetryAfterSeconds = ceilSeconds(retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	WriteJSON(w, http.StatusTooManyRequests, resp)
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}
