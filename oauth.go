package main

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/songth1ef/go-auth/internal/config"
)

// authorization codes are short-lived and single use
const authCodeTTL = 10 * time.Minute

// TokenRequest is the logical shape of a token-endpoint request.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// OAuthCoordinator implements the authorization-code grant: client
// validation, code issuance and the at-most-once code-for-tokens exchange.
type OAuthCoordinator struct {
	cfg   *config.Config
	store Store
	auth  *Authenticator
}

func NewOAuthCoordinator(cfg *config.Config, store Store, auth *Authenticator) *OAuthCoordinator {
	return &OAuthCoordinator{cfg: cfg, store: store, auth: auth}
}

// CreateClientInput are the admin-supplied fields of a new OAuth client.
// Credentials are never part of the input; they are generated exactly once.
type CreateClientInput struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	RedirectURIs         []string `json:"redirect_uris,omitempty"`
	AllowedGrantTypes    []string `json:"allowed_grant_types,omitempty"`
	Scopes               []string `json:"scopes,omitempty"`
	AccessTokenLifetime  int      `json:"access_token_lifetime,omitempty"`
	RefreshTokenLifetime int      `json:"refresh_token_lifetime,omitempty"`
}

// CreateClient registers a new OAuth client with a generated client id
// (16 random bytes, hex) and secret (32 random bytes, hex).
func (o *OAuthCoordinator) CreateClient(in CreateClientInput) (*OAuthClient, error) {
	clientID, err := genToken(16)
	if err != nil {
		return nil, err
	}
	clientSecret, err := genToken(32)
	if err != nil {
		return nil, err
	}

	client := &OAuthClient{
		ID:                   uuid.NewString(),
		Name:                 in.Name,
		Description:          in.Description,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		RedirectURIs:         in.RedirectURIs,
		AllowedGrantTypes:    in.AllowedGrantTypes,
		Scopes:               in.Scopes,
		IsActive:             true,
		AccessTokenLifetime:  in.AccessTokenLifetime,
		RefreshTokenLifetime: in.RefreshTokenLifetime,
	}
	if len(client.AllowedGrantTypes) == 0 {
		client.AllowedGrantTypes = []string{"authorization_code"}
	}
	if client.AccessTokenLifetime == 0 {
		client.AccessTokenLifetime = 3600
	}
	if client.RefreshTokenLifetime == 0 {
		client.RefreshTokenLifetime = 2592000
	}

	return o.store.CreateClient(client)
}

// ValidateClient checks the client credentials and active flag.
func (o *OAuthCoordinator) ValidateClient(clientID, clientSecret string) (*OAuthClient, error) {
	client, err := o.store.GetClientByClientID(clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: unknown client %s", ErrInvalidClient, clientID)
	}
	if !client.IsActive {
		return nil, ErrClientDisabled
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		return nil, ErrInvalidClientSecret
	}
	return client, nil
}

// CreateAuthorizationCode issues a single-use code bound to a user, client,
// optional redirect URI and scope set. Only the opaque code is returned.
func (o *OAuthCoordinator) CreateAuthorizationCode(clientID, userID, redirectURI string, scopes []string) (string, error) {
	client, err := o.store.GetClientByClientID(clientID)
	if err != nil {
		return "", err
	}
	if client == nil {
		return "", fmt.Errorf("%w: unknown client %s", ErrNotFound, clientID)
	}

	user, err := o.store.GetUserByID(userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: unknown user", ErrNotFound)
	}

	if redirectURI != "" && len(client.RedirectURIs) > 0 {
		if !containsString(client.RedirectURIs, redirectURI) {
			return "", ErrInvalidRedirectURI
		}
	}

	code, err := genToken(32)
	if err != nil {
		return "", err
	}

	if err := o.store.CreateAuthCode(&AuthCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		ExpiresAt:   time.Now().Add(authCodeTTL),
	}); err != nil {
		return "", err
	}

	return code, nil
}

// ExchangeToken validates the client credentials and dispatches on the grant
// type.
func (o *OAuthCoordinator) ExchangeToken(req TokenRequest) (*TokenResponse, error) {
	client, err := o.ValidateClient(req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case "authorization_code":
		return o.exchangeAuthorizationCode(client, req)
	case "refresh_token":
		return o.exchangeRefreshToken(req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrantType, req.GrantType)
	}
}

// exchangeAuthorizationCode redeems a code at most once. The code record is
// consumed on lookup, so the expired and redirect-mismatch failure paths also
// burn it: no code is ever valid for a second exchange attempt.
func (o *OAuthCoordinator) exchangeAuthorizationCode(client *OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: authorization code required", ErrNotFound)
	}

	authCode, err := o.store.ConsumeAuthCode(req.Code, client.ClientID)
	if err != nil {
		return nil, err
	}
	if authCode == nil {
		return nil, fmt.Errorf("%w: authorization code invalid or already used", ErrNotFound)
	}

	if authCode.IsExpired() {
		return nil, ErrCodeExpired
	}

	if req.RedirectURI != "" && authCode.RedirectURI != req.RedirectURI {
		return nil, ErrRedirectMismatch
	}

	user, err := o.store.GetUserByID(authCode.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown user", ErrNotFound)
	}

	return o.auth.Login(user, &ClientOptions{
		ClientID: client.ClientID,
		Scope:    strings.Join(authCode.Scopes, " "),
	})
}

func (o *OAuthCoordinator) exchangeRefreshToken(req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token required", ErrInvalidRefreshToken)
	}

	resp, err := o.auth.Refresh(req.RefreshToken)
	if err != nil {
		return nil, err
	}

	resp.TokenType = "Bearer"
	resp.ExpiresIn = int64(parseExpiry(o.cfg.JWTExpiresIn, time.Hour).Seconds())
	resp.Scope = req.Scope
	return resp, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
