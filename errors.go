package main

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Domain errors. Handlers map these to wire codes; internal distinctions
// (which lookup failed, expired vs malformed) stay in logs only.
var (
	// authentication
	ErrNotFound           = errors.New("record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")

	// tokens
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSigningFailed       = errors.New("token signing failed")

	// oauth
	ErrInvalidClient        = errors.New("invalid client")
	ErrClientDisabled       = errors.New("client disabled")
	ErrInvalidClientSecret  = errors.New("invalid client secret")
	ErrInvalidRedirectURI   = errors.New("invalid redirect uri")
	ErrCodeExpired          = errors.New("authorization code expired")
	ErrRedirectMismatch     = errors.New("redirect uri mismatch")
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// key material
	ErrKeyNotFound = errors.New("key not found")
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// writeAuthError collapses every authentication failure into a uniform 401 so
// the response never reveals which check failed.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username/email or password")
}

// oauthErrorStatus maps OAuth token-endpoint failures onto 400/401 classes.
func oauthErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidClient), errors.Is(err, ErrInvalidClientSecret):
		return http.StatusUnauthorized, "INVALID_CLIENT"
	case errors.Is(err, ErrClientDisabled):
		return http.StatusUnauthorized, "CLIENT_DISABLED"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "INVALID_GRANT"
	case errors.Is(err, ErrCodeExpired):
		return http.StatusBadRequest, "CODE_EXPIRED"
	case errors.Is(err, ErrRedirectMismatch):
		return http.StatusBadRequest, "REDIRECT_MISMATCH"
	case errors.Is(err, ErrInvalidRedirectURI):
		return http.StatusBadRequest, "INVALID_REDIRECT_URI"
	case errors.Is(err, ErrUnsupportedGrantType):
		return http.StatusBadRequest, "UNSUPPORTED_GRANT_TYPE"
	case errors.Is(err, ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
