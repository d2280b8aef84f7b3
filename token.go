package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/songth1ef/go-auth/internal/config"
)

// Claims is the payload embedded in every signed token.
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	ClientID string   `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies signed tokens. The signing material is chosen by
// configuration: the shared secret for HS256, the rotator's current private
// key for RS256. Verification of RS256 tokens additionally accepts the key
// retired at the last rotation while its overlap window lasts.
type Signer struct {
	cfg     *config.Config
	keys    *KeyStore
	rotator *Rotator
}

func NewSigner(cfg *config.Config, keys *KeyStore, rotator *Rotator) *Signer {
	return &Signer{cfg: cfg, keys: keys, rotator: rotator}
}

// Sign encodes claims into a token expiring after ttl.
func (s *Signer) Sign(sub, username string, roles []string, clientID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Roles:    roles,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    s.cfg.JWTIssuer,
			Audience:  jwt.ClaimStrings{s.cfg.JWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	if s.cfg.JWTSymmetric {
		secret, err := s.symmetricSecret()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(secret)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		return signed, nil
	}

	kp := s.rotator.CurrentKeyPair()
	if kp == nil {
		return "", fmt.Errorf("%w: no current key pair", ErrSigningFailed)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(kp.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry, returning the embedded
// claims. Expired tokens fail with ErrTokenExpired; every other failure is
// ErrInvalidToken.
func (s *Signer) Verify(tokenStr string) (*Claims, error) {
	if s.cfg.JWTSymmetric {
		secret, err := s.symmetricSecret()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return s.parse(tokenStr, secret)
	}

	var lastErr error
	for _, pemKey := range s.rotator.VerificationKeys() {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
		if err != nil {
			lastErr = err
			continue
		}
		claims, err := s.parse(tokenStr, pub)
		if err == nil {
			return claims, nil
		}
		lastErr = err
		// an expired token is expired under every key; stop early
		if errors.Is(err, ErrTokenExpired) {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no verification keys", ErrInvalidToken)
	}
	return nil, lastErr
}

func (s *Signer) parse(tokenStr string, key interface{}) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{s.cfg.JWTAlgorithm}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (s *Signer) symmetricSecret() ([]byte, error) {
	encoded, err := s.keys.GetSymmetricKey()
	if err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// legacy secrets may be raw strings rather than base64
		return []byte(encoded), nil
	}
	return secret, nil
}

// parseExpiry converts a "<int><unit>" duration string (s, m, h or d) into a
// time.Duration. Unparsable input falls back to def.
func parseExpiry(s string, def time.Duration) time.Duration {
	if len(s) < 2 {
		return def
	}
	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return def
	}
	switch s[len(s)-1] {
	case 's':
		return time.Duration(value) * time.Second
	case 'm':
		return time.Duration(value) * time.Minute
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	default:
		return def
	}
}
