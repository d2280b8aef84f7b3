package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/songth1ef/go-auth/internal/config"
)

func testConfig(t *testing.T, symmetric bool) *config.Config {
	t.Helper()
	c := &config.Config{
		Env:                    "test",
		KeysDir:                t.TempDir(),
		JWTExpiresIn:           "15m",
		JWTRefreshExpiresIn:    "7d",
		JWTAudience:            "auth-service",
		JWTIssuer:              "auth-server",
		KeyRotationInterval:    90 * 24 * time.Hour,
		KeyPropagationDelay:    10 * time.Millisecond,
		MaxLoginAttempts:       5,
		LockoutDuration:        "15m",
		VerificationCodeLength: 6,
		VerificationCodeExpiry: 5 * time.Minute,
	}
	if symmetric {
		c.JWTAlgorithm = "HS256"
		c.JWTSymmetric = true
	} else {
		c.JWTAlgorithm = "RS256"
	}
	return c
}

func testSigner(t *testing.T, cfg *config.Config) *Signer {
	t.Helper()
	keys := NewKeyStore(cfg.KeysDir)
	require.NoError(t, keys.EnsureKeys())

	var rotator *Rotator
	if !cfg.JWTSymmetric {
		var err error
		rotator, err = NewRotator(cfg.KeysDir, cfg.KeyRotationInterval, cfg.KeyPropagationDelay,
			parseExpiry(cfg.JWTExpiresIn, time.Hour))
		require.NoError(t, err)
	}
	return NewSigner(cfg, keys, rotator)
}

func createTestUser(t *testing.T, store Store, username, email, password string) *User {
	t.Helper()
	hashed, err := hashPassword(password)
	require.NoError(t, err)
	user, err := store.CreateUser(&User{
		ID:                uuid.NewString(),
		Username:          username,
		Email:             email,
		Password:          hashed,
		PreferredLanguage: "en",
		Roles:             []string{"user"},
		IsActive:          true,
	})
	require.NoError(t, err)
	return user
}
