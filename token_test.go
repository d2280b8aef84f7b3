package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignVerifySymmetric(t *testing.T) {
	cfg := testConfig(t, true)
	signer := testSigner(t, cfg)

	token, err := signer.Sign("user-1", "alice", []string{"user", "admin"}, "", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, []string{"user", "admin"}, claims.Roles)
	require.Empty(t, claims.ClientID)
}

func TestSignVerifyAsymmetric(t *testing.T) {
	cfg := testConfig(t, false)
	signer := testSigner(t, cfg)

	token, err := signer.Sign("user-2", "bob", []string{"user"}, "client-abc", time.Minute)
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-2", claims.Subject)
	require.Equal(t, "bob", claims.Username)
	require.Equal(t, "client-abc", claims.ClientID)
}

func TestVerifyExpiredToken(t *testing.T) {
	for _, symmetric := range []bool{true, false} {
		cfg := testConfig(t, symmetric)
		signer := testSigner(t, cfg)

		token, err := signer.Sign("user-3", "carol", []string{"user"}, "", -time.Minute)
		require.NoError(t, err)

		_, err = signer.Verify(token)
		require.ErrorIs(t, err, ErrTokenExpired)
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	cfg := testConfig(t, true)
	signer := testSigner(t, cfg)

	token, err := signer.Sign("user-4", "dave", []string{"user"}, "", time.Minute)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = signer.Verify(tampered)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.NotErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyGarbage(t *testing.T) {
	cfg := testConfig(t, false)
	signer := testSigner(t, cfg)

	_, err := signer.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	symCfg := testConfig(t, true)
	symSigner := testSigner(t, symCfg)

	token, err := symSigner.Sign("user-5", "eve", []string{"user"}, "", time.Minute)
	require.NoError(t, err)

	rsaCfg := testConfig(t, false)
	rsaSigner := testSigner(t, rsaCfg)

	_, err = rsaSigner.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseExpiry(t *testing.T) {
	def := time.Hour
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"2h", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"", def},
		{"junk", def},
		{"10x", def},
	}
	for _, c := range cases {
		require.Equal(t, c.want, parseExpiry(c.in, def), "input %q", c.in)
	}
}
