package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/songth1ef/go-auth/internal/config"
)

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// ClientOptions carries the OAuth client context when tokens are minted
// through the code-exchange flow.
type ClientOptions struct {
	ClientID string
	Scope    string
}

// Authenticator validates credentials, drives the account lockout state
// machine and mints token pairs through the signer.
type Authenticator struct {
	cfg    *config.Config
	store  Store
	signer *Signer
}

func NewAuthenticator(cfg *config.Config, store Store, signer *Signer) *Authenticator {
	return &Authenticator{cfg: cfg, store: store, signer: signer}
}

// Authenticate looks up a principal by username or email and validates the
// password. The attempt is always recorded, even when the call fails: a
// failed comparison increments the counter (locking the account at the
// configured threshold) before the error is returned.
func (a *Authenticator) Authenticate(identifier, password string, isEmail bool) (*User, error) {
	var user *User
	var err error
	if isEmail {
		user, err = a.store.GetUserByEmail(identifier)
	} else {
		user, err = a.store.GetUserByUsername(identifier)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	if user.IsLocked {
		if user.LockUntil != nil && user.LockUntil.After(time.Now()) {
			return nil, ErrAccountLocked
		}
		// lock window elapsed: self-heal before checking the password
		if err := a.store.ResetLock(user.ID); err != nil {
			return nil, err
		}
		user.IsLocked = false
		user.LoginAttempts = 0
		user.LockUntil = nil
	}

	valid := comparePassword(user.Password, password)

	if valid {
		if err := a.store.RecordLoginSuccess(user.ID); err != nil {
			return nil, err
		}
	} else {
		lockFor := parseLockoutDuration(a.cfg.LockoutDuration)
		if _, err := a.store.RecordLoginFailure(user.ID, a.cfg.MaxLoginAttempts, lockFor); err != nil {
			return nil, err
		}
		// a wrong password always wins over any lock state just cleared
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Login builds the claims payload and signs an access/refresh token pair.
// Both tokens carry the same claims and are signed independently. When OAuth
// client context is present the response additionally carries the Bearer
// token type, numeric expiry and granted scope.
func (a *Authenticator) Login(user *User, clientOpts *ClientOptions) (*TokenResponse, error) {
	clientID := ""
	if clientOpts != nil {
		clientID = clientOpts.ClientID
	}

	accessTTL := parseExpiry(a.cfg.JWTExpiresIn, time.Hour)
	refreshTTL := parseExpiry(a.cfg.JWTRefreshExpiresIn, 7*24*time.Hour)

	var accessToken, refreshToken string
	var accessErr, refreshErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		accessToken, accessErr = a.signer.Sign(user.ID, user.Username, user.Roles, clientID, accessTTL)
	}()
	go func() {
		defer wg.Done()
		refreshToken, refreshErr = a.signer.Sign(user.ID, user.Username, user.Roles, clientID, refreshTTL)
	}()
	wg.Wait()

	if accessErr != nil {
		return nil, accessErr
	}
	if refreshErr != nil {
		return nil, refreshErr
	}

	resp := &TokenResponse{
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		PreferredLanguage: user.PreferredLanguage,
	}
	if clientOpts != nil && clientOpts.ClientID != "" {
		resp.TokenType = "Bearer"
		resp.ExpiresIn = int64(accessTTL.Seconds())
		resp.Scope = clientOpts.Scope
	}
	return resp, nil
}

// Refresh verifies a refresh token and reissues a full token pair. Every
// verification failure, expired or malformed alike, surfaces uniformly as
// ErrInvalidRefreshToken; the distinction stays in the log.
func (a *Authenticator) Refresh(token string) (*TokenResponse, error) {
	claims, err := a.signer.Verify(token)
	if err != nil {
		log.Printf("refresh token rejected: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	user, err := a.store.GetUserByID(claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	return a.Login(user, nil)
}

// parseLockoutDuration parses a "<int><unit>" lockout window. Anything
// unparsable falls back to 15 minutes.
func parseLockoutDuration(s string) time.Duration {
	return parseExpiry(s, 15*time.Minute)
}
