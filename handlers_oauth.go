package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// HandleAuthorize issues an authorization code for the authenticated user.
// GET /oauth/authorize?client_id=...&redirect_uri=...&scope=...&state=...
// The route is JWT-guarded; the verified claims arrive via the guard.
func (a *App) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "client_id is required")
		return
	}

	var scopes []string
	if scope := q.Get("scope"); scope != "" {
		scopes = strings.Split(scope, " ")
	}

	code, err := a.oauth.CreateAuthorizationCode(clientID, claims.Subject, q.Get("redirect_uri"), scopes)
	if err != nil {
		log.Printf("authorization code issuance failed: %v", err)
		switch {
		case errors.Is(err, ErrInvalidRedirectURI):
			writeError(w, http.StatusBadRequest, "INVALID_REDIRECT_URI", "Redirect URI is not registered for this client")
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown client or user")
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create authorization code")
		}
		return
	}

	resp := map[string]string{"code": code}
	if state := q.Get("state"); state != "" {
		resp["state"] = state
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleToken is the token endpoint. It accepts both JSON and form bodies.
// POST /oauth/token
func (a *App) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTokenRequest(w, r)
	if !ok {
		return
	}
	if req.GrantType == "" || req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "grant_type, client_id and client_secret are required")
		return
	}

	tokens, err := a.oauth.ExchangeToken(req)
	if err != nil {
		log.Printf("token exchange failed for client %s: %v", req.ClientID, err)
		status, code := oauthErrorStatus(err)
		writeError(w, status, code, "Token exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (TokenRequest, bool) {
	var req TokenRequest
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return req, false
		}
		req = TokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			RefreshToken: r.PostFormValue("refresh_token"),
			Scope:        r.PostFormValue("scope"),
		}
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return req, false
	}
	return req, true
}

// clientView hides the client secret in list/get responses.
type clientView struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	ClientID             string   `json:"client_id"`
	RedirectURIs         []string `json:"redirect_uris,omitempty"`
	AllowedGrantTypes    []string `json:"allowed_grant_types"`
	Scopes               []string `json:"scopes,omitempty"`
	IsActive             bool     `json:"is_active"`
	AccessTokenLifetime  int      `json:"access_token_lifetime"`
	RefreshTokenLifetime int      `json:"refresh_token_lifetime"`
}

func toClientView(c *OAuthClient) clientView {
	return clientView{
		ID:                   c.ID,
		Name:                 c.Name,
		Description:          c.Description,
		ClientID:             c.ClientID,
		RedirectURIs:         c.RedirectURIs,
		AllowedGrantTypes:    c.AllowedGrantTypes,
		Scopes:               c.Scopes,
		IsActive:             c.IsActive,
		AccessTokenLifetime:  c.AccessTokenLifetime,
		RefreshTokenLifetime: c.RefreshTokenLifetime,
	}
}

// HandleCreateClient registers an OAuth client. The generated secret is
// included in this response only; it is never shown again.
func (a *App) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	var in CreateClientInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Client name is required")
		return
	}

	client, err := a.oauth.CreateClient(in)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			writeError(w, http.StatusConflict, "CLIENT_EXISTS", "Client name already exists")
			return
		}
		log.Printf("create client: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create client")
		return
	}

	view := toClientView(client)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"client":        view,
		"client_secret": client.ClientSecret,
	})
}

func (a *App) HandleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.store.ListClients()
	if err != nil {
		log.Printf("list clients: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list clients")
		return
	}
	views := make([]clientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, toClientView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *App) HandleGetClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	client, err := a.store.GetClientByID(id)
	if err != nil {
		log.Printf("get client: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load client")
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Client not found")
		return
	}
	writeJSON(w, http.StatusOK, toClientView(client))
}

func (a *App) HandleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	client, err := a.store.GetClientByID(id)
	if err != nil {
		log.Printf("get client: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load client")
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Client not found")
		return
	}

	var in struct {
		Name                 *string   `json:"name"`
		Description          *string   `json:"description"`
		RedirectURIs         *[]string `json:"redirect_uris"`
		AllowedGrantTypes    *[]string `json:"allowed_grant_types"`
		Scopes               *[]string `json:"scopes"`
		IsActive             *bool     `json:"is_active"`
		AccessTokenLifetime  *int      `json:"access_token_lifetime"`
		RefreshTokenLifetime *int      `json:"refresh_token_lifetime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if in.Name != nil {
		client.Name = *in.Name
	}
	if in.Description != nil {
		client.Description = *in.Description
	}
	if in.RedirectURIs != nil {
		client.RedirectURIs = *in.RedirectURIs
	}
	if in.AllowedGrantTypes != nil {
		client.AllowedGrantTypes = *in.AllowedGrantTypes
	}
	if in.Scopes != nil {
		client.Scopes = *in.Scopes
	}
	if in.IsActive != nil {
		client.IsActive = *in.IsActive
	}
	if in.AccessTokenLifetime != nil {
		client.AccessTokenLifetime = *in.AccessTokenLifetime
	}
	if in.RefreshTokenLifetime != nil {
		client.RefreshTokenLifetime = *in.RefreshTokenLifetime
	}

	if err := a.store.UpdateClient(client); err != nil {
		log.Printf("update client: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update client")
		return
	}
	writeJSON(w, http.StatusOK, toClientView(client))
}

func (a *App) HandleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.DeleteClient(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Client not found")
			return
		}
		log.Printf("delete client: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete client")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"deleted": true})
}
