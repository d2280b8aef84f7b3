package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type registerRequest struct {
	Username          string `json:"username"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username, email and password are required")
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}

	lang := req.PreferredLanguage
	if lang == "" {
		lang = "zh"
	}

	user, err := a.store.CreateUser(&User{
		ID:                uuid.NewString(),
		Username:          req.Username,
		Email:             req.Email,
		PhoneNumber:       req.PhoneNumber,
		Password:          hashed,
		PreferredLanguage: lang,
		Roles:             []string{"user"},
		IsActive:          true,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			writeError(w, http.StatusConflict, "USER_EXISTS", "Username or email already exists")
			return
		}
		log.Printf("create user: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}

	tokens, err := a.auth.Login(user, nil)
	if err != nil {
		log.Printf("login after register: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusCreated, tokens)
}

type loginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Username == "" && req.Email == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username or email is required")
		return
	}

	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	isEmail := strings.Contains(identifier, "@")

	user, err := a.auth.Authenticate(identifier, req.Password, isEmail)
	if err != nil {
		// the response stays uniform regardless of which check failed;
		// the distinction lives in the log only
		log.Printf("authentication failed for %q: %v", identifier, err)
		writeAuthError(w)
		return
	}

	tokens, err := a.auth.Login(user, nil)
	if err != nil {
		log.Printf("token issuance failed: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}

	tokens, err := a.auth.Refresh(req.RefreshToken)
	if err != nil {
		log.Printf("refresh failed: %v", err)
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// HandleValidate checks an access token and returns its claims.
// GET /auth/validate with Authorization: Bearer <token>
func (a *App) HandleValidate(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			tokenStr = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if tokenStr == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	claims, err := a.signer.Verify(tokenStr)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   true,
		"sub":      claims.Subject,
		"username": claims.Username,
		"roles":    claims.Roles,
		"exp":      claims.ExpiresAt.Unix(),
	})
}

func (a *App) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email is required")
		return
	}

	lang := r.Header.Get("Accept-Language")
	if lang == "" {
		lang = "zh"
	}

	if err := a.verification.SendCode(r.Context(), req.Email, lang); err != nil {
		log.Printf("send verification code: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to send verification code")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"sent": true})
}

func (a *App) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email, code and new password are required")
		return
	}

	if err := a.verification.VerifyCode(r.Context(), req.Email, req.Code, true); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CODE", "Verification code invalid or expired")
		return
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	if err := a.store.UpdatePassword(req.Email, hashed); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"updated": true})
}

// HandleUpdateLanguage changes the authenticated user's preferred language.
// PUT /users/language, JWT-guarded.
func (a *App) HandleUpdateLanguage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
		return
	}

	var req struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Language == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Language is required")
		return
	}
	if req.Language != "zh" && req.Language != "en" {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_LANGUAGE", "Supported languages: zh, en")
		return
	}

	if err := a.store.UpdatePreferredLanguage(claims.Subject, req.Language); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update language")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"preferred_language": req.Language})
}
