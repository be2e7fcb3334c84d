package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/deusexmachina/authcore"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// errorStatus maps engine errors to an HTTP status and a stable code. Unknown
// errors are internal.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, authcore.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, authcore.ErrWeakPassword):
		return http.StatusBadRequest, "weak_password"
	case errors.Is(err, authcore.ErrBreachedPassword):
		return http.StatusBadRequest, "breached_password"
	case errors.Is(err, authcore.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, authcore.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid_or_expired_token"
	case errors.Is(err, authcore.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authcore.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, authcore.ErrInvalidExternalToken):
		return http.StatusUnauthorized, "invalid_external_token"
	case errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusLocked, "account_locked"
	case errors.Is(err, authcore.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, authcore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail writes err as a response. Client errors carry the engine's message;
// internal errors are logged and reported, and the client sees a generic
// message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, code, err.Error())
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)

	writeError(w, status, code, "internal server error")
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}

func required(w http.ResponseWriter, fields map[string]string) bool {
	for name, value := range fields {
		if value == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", name+" is required")
			return false
		}
	}
	return true
}
