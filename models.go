package main

import "time"

// User represents a principal in the system
type User struct {
	ID                string
	Username          string
	Email             string
	PhoneNumber       string
	Password          string // bcrypt hash
	PreferredLanguage string
	Roles             []string
	LoginAttempts     int
	IsLocked          bool
	LockUntil         *time.Time
	LastLoginAttempt  *time.Time
	LastLoginDate     *time.Time
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OAuthClient represents a registered OAuth2 application
type OAuthClient struct {
	ID                   string
	Name                 string
	Description          string
	ClientID             string
	ClientSecret         string
	RedirectURIs         []string
	AllowedGrantTypes    []string
	Scopes               []string
	IsActive             bool
	AccessTokenLifetime  int // seconds
	RefreshTokenLifetime int // seconds
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AuthCode represents a single-use OAuth2 authorization code grant
type AuthCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Scopes      []string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the code is past its TTL.
func (c *AuthCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// TokenResponse is the result of a successful login, refresh or code exchange.
// The OAuth fields are populated only when the tokens were minted for a client.
type TokenResponse struct {
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
	TokenType         string `json:"token_type,omitempty"`
	ExpiresIn         int64  `json:"expires_in,omitempty"`
	Scope             string `json:"scope,omitempty"`
}
