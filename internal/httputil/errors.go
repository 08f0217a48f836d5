package httputil

import (
	"encoding/json"
	"net/http"
)

// RateLimitMessage is the fixed body of every 429 response.
const RateLimitMessage = "Too many requests. Please wait before trying again."

// APIError is the JSON body of every non-streaming error response.
type APIError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, message, details string) {
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	WriteJSON(w, statusCode, APIError{Error: message, Details: details})
}

func WriteRateLimitError(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusTooManyRequests, RateLimitMessage, "")
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message, details string) {
	WriteError(w, requestID, http.StatusBadRequest, message, details)
}

func WriteInternalError(w http.ResponseWriter, requestID, message, details string) {
	WriteError(w, requestID, http.StatusInternalServerError, message, details)
}
