package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, http.Handler) {
	t.Helper()
	cfg := testConfig(t, true)
	store := NewMemoryDB()
	signer := testSigner(t, cfg)
	auth := NewAuthenticator(cfg, store, signer)

	app := &App{
		cfg:          cfg,
		store:        store,
		signer:       signer,
		auth:         auth,
		oauth:        NewOAuthCoordinator(cfg, store, auth),
		verification: NewVerificationService(cfg, NewMemoryCodeCache(), &captureMailer{}),
		rateLimiter:  NewRateLimiter(600),
	}
	return app, app.routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "s3cret",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])
	require.Equal(t, "zh", body["preferred_language"])

	// duplicate registration conflicts
	rec = doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "s3cret",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "USER_EXISTS", decodeBody(t, rec)["error_code"])

	rec = doJSON(t, h, "POST", "/auth/login", map[string]string{
		"username": "alice",
		"password": "s3cret",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody(t, rec)["access_token"])

	// login by email works through the same endpoint
	rec = doJSON(t, h, "POST", "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "s3cret",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginEndpointUniformFailure(t *testing.T) {
	_, h := newTestApp(t)

	doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	}, nil)

	// unknown user and wrong password produce identical responses
	recUnknown := doJSON(t, h, "POST", "/auth/login", map[string]string{
		"username": "nobody", "password": "whatever",
	}, nil)
	recWrong := doJSON(t, h, "POST", "/auth/login", map[string]string{
		"username": "alice", "password": "wrong",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	require.Equal(t, http.StatusUnauthorized, recWrong.Code)
	require.Equal(t, recUnknown.Body.String(), recWrong.Body.String())
}

func TestRefreshEndpoint(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	}, nil)
	refreshToken := decodeBody(t, rec)["refresh_token"].(string)

	rec = doJSON(t, h, "POST", "/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody(t, rec)["access_token"])

	rec = doJSON(t, h, "POST", "/auth/refresh", map[string]string{"refresh_token": "garbage"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_REFRESH_TOKEN", decodeBody(t, rec)["error_code"])
}

func TestValidateEndpoint(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	}, nil)
	accessToken := decodeBody(t, rec)["access_token"].(string)

	rec = doJSON(t, h, "GET", "/auth/validate", nil, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["active"])
	require.Equal(t, "alice", body["username"])

	rec = doJSON(t, h, "GET", "/auth/validate?token=garbage", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody(t, rec)["active"])
}

func TestPasswordResetFlow(t *testing.T) {
	app, h := newTestApp(t)
	mailer := app.verification.mailer.(*captureMailer)

	doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	}, nil)

	rec := doJSON(t, h, "POST", "/auth/forgot-password", map[string]string{"email": "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, mailer.code)

	rec = doJSON(t, h, "POST", "/auth/reset-password", map[string]string{
		"email":        "alice@example.com",
		"code":         mailer.code,
		"new_password": "newpass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// old password no longer works, new one does
	rec = doJSON(t, h, "POST", "/auth/login", map[string]string{"username": "alice", "password": "s3cret"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, "POST", "/auth/login", map[string]string{"username": "alice", "password": "newpass"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// the code was consumed by the successful reset
	rec = doJSON(t, h, "POST", "/auth/reset-password", map[string]string{
		"email":        "alice@example.com",
		"code":         mailer.code,
		"new_password": "again",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_CODE", decodeBody(t, rec)["error_code"])
}

func TestUpdateLanguageEndpoint(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	}, nil)
	accessToken := decodeBody(t, rec)["access_token"].(string)

	// no token
	rec = doJSON(t, h, "PUT", "/users/language", map[string]string{"language": "en"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, "PUT", "/users/language", map[string]string{"language": "en"}, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "PUT", "/users/language", map[string]string{"language": "fr"}, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "UNSUPPORTED_LANGUAGE", decodeBody(t, rec)["error_code"])
}

func TestOAuthEndToEnd(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "POST", "/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	}, nil)
	accessToken := decodeBody(t, rec)["access_token"].(string)
	authHeader := map[string]string{"Authorization": "Bearer " + accessToken}

	// register a client through the admin surface
	rec = doJSON(t, h, "POST", "/admin/clients", map[string]interface{}{
		"name":          "web app",
		"redirect_uris": []string{"https://app.example.com/cb"},
		"scopes":        []string{"read"},
	}, authHeader)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	clientSecret := created["client_secret"].(string)
	clientInfo := created["client"].(map[string]interface{})
	clientID := clientInfo["client_id"].(string)
	require.Len(t, clientSecret, 64)

	// the list view never exposes the secret
	rec = doJSON(t, h, "GET", "/admin/clients", nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), clientSecret)

	// authorize issues a code for the authenticated user
	authorizeURL := "/oauth/authorize?client_id=" + clientID +
		"&redirect_uri=" + url.QueryEscape("https://app.example.com/cb") +
		"&scope=read&state=xyz"
	rec = doJSON(t, h, "GET", authorizeURL, nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	authorizeBody := decodeBody(t, rec)
	code := authorizeBody["code"].(string)
	require.Len(t, code, 64)
	require.Equal(t, "xyz", authorizeBody["state"])

	// exchange as a form post, the classic OAuth client shape
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", "https://app.example.com/cb")

	req := httptest.NewRequest("POST", "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	formRec := httptest.NewRecorder()
	h.ServeHTTP(formRec, req)
	require.Equal(t, http.StatusOK, formRec.Code)
	tokenBody := decodeBody(t, formRec)
	require.NotEmpty(t, tokenBody["access_token"])
	require.Equal(t, "Bearer", tokenBody["token_type"])
	require.Equal(t, "read", tokenBody["scope"])

	// replaying the code fails
	rec = doJSON(t, h, "POST", "/oauth/token", map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"redirect_uri":  "https://app.example.com/cb",
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "INVALID_GRANT", decodeBody(t, rec)["error_code"])
}

func TestTokenEndpointClientAuth(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "POST", "/oauth/token", map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "unknown",
		"client_secret": "nope",
		"code":          "whatever",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_CLIENT", decodeBody(t, rec)["error_code"])

	// missing fields are rejected before any lookup
	rec = doJSON(t, h, "POST", "/oauth/token", map[string]string{"grant_type": "authorization_code"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "GET", "/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	_, h := newTestApp(t)

	rec := doJSON(t, h, "GET", "/health", nil, nil)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimitEnforced(t *testing.T) {
	cfg := testConfig(t, true)
	store := NewMemoryDB()
	signer := testSigner(t, cfg)
	auth := NewAuthenticator(cfg, store, signer)
	app := &App{
		cfg:          cfg,
		store:        store,
		signer:       signer,
		auth:         auth,
		oauth:        NewOAuthCoordinator(cfg, store, auth),
		verification: NewVerificationService(cfg, NewMemoryCodeCache(), &captureMailer{}),
		rateLimiter:  NewRateLimiter(3),
	}
	h := app.routes()

	var last int
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, "POST", "/auth/login", map[string]string{"username": "x", "password": "y"}, nil)
		last = rec.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}
