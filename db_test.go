package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	s, err := NewSQLiteDB(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close() })
	return s
}

func TestSQLiteUserLifecycle(t *testing.T) {
	s := newTestSQLite(t)

	created, err := s.CreateUser(&User{
		ID:                uuid.NewString(),
		Username:          "alice",
		Email:             "alice@example.com",
		Password:          "hash",
		PreferredLanguage: "en",
		Roles:             []string{"user", "admin"},
		IsActive:          true,
	})
	require.NoError(t, err)
	require.Equal(t, "alice", created.Username)
	require.Equal(t, []string{"user", "admin"}, created.Roles)
	require.True(t, created.IsActive)
	require.Equal(t, 0, created.LoginAttempts)
	require.Nil(t, created.LockUntil)

	byName, err := s.GetUserByUsername("alice")
	require.NoError(t, err)
	require.Equal(t, created.ID, byName.ID)

	byEmail, err := s.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, byEmail.ID)

	missing, err := s.GetUserByUsername("nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSQLiteDuplicateUser(t *testing.T) {
	s := newTestSQLite(t)

	u := &User{ID: uuid.NewString(), Username: "alice", Email: "alice@example.com", Password: "hash"}
	_, err := s.CreateUser(u)
	require.NoError(t, err)

	dup := &User{ID: uuid.NewString(), Username: "alice", Email: "other@example.com", Password: "hash"}
	_, err = s.CreateUser(dup)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestSQLiteLoginFailureLocksAtThreshold(t *testing.T) {
	s := newTestSQLite(t)

	u, err := s.CreateUser(&User{ID: uuid.NewString(), Username: "alice", Email: "a@b.c", Password: "hash"})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		got, err := s.RecordLoginFailure(u.ID, 5, 15*time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, got.LoginAttempts)
		require.False(t, got.IsLocked)
		require.Nil(t, got.LockUntil)
		require.NotNil(t, got.LastLoginAttempt)
	}

	got, err := s.RecordLoginFailure(u.ID, 5, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 5, got.LoginAttempts)
	require.True(t, got.IsLocked)
	require.NotNil(t, got.LockUntil)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), *got.LockUntil, 5*time.Second)
}

func TestSQLiteLoginSuccessResetsState(t *testing.T) {
	s := newTestSQLite(t)

	u, err := s.CreateUser(&User{ID: uuid.NewString(), Username: "alice", Email: "a@b.c", Password: "hash"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.RecordLoginFailure(u.ID, 5, 15*time.Minute)
		require.NoError(t, err)
	}

	require.NoError(t, s.RecordLoginSuccess(u.ID))

	got, err := s.GetUserByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.LoginAttempts)
	require.False(t, got.IsLocked)
	require.Nil(t, got.LockUntil)
	require.NotNil(t, got.LastLoginDate)
}

func TestSQLiteResetLock(t *testing.T) {
	s := newTestSQLite(t)

	u, err := s.CreateUser(&User{ID: uuid.NewString(), Username: "alice", Email: "a@b.c", Password: "hash"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.RecordLoginFailure(u.ID, 5, 15*time.Minute)
		require.NoError(t, err)
	}

	require.NoError(t, s.ResetLock(u.ID))

	got, err := s.GetUserByID(u.ID)
	require.NoError(t, err)
	require.False(t, got.IsLocked)
	require.Equal(t, 0, got.LoginAttempts)
	require.Nil(t, got.LockUntil)
}

func TestSQLiteUpdatePasswordAndLanguage(t *testing.T) {
	s := newTestSQLite(t)

	u, err := s.CreateUser(&User{ID: uuid.NewString(), Username: "alice", Email: "a@b.c", Password: "old", PreferredLanguage: "zh"})
	require.NoError(t, err)

	require.NoError(t, s.UpdatePassword("a@b.c", "new"))
	require.ErrorIs(t, s.UpdatePassword("missing@b.c", "new"), ErrNotFound)

	require.NoError(t, s.UpdatePreferredLanguage(u.ID, "en"))
	require.ErrorIs(t, s.UpdatePreferredLanguage("no-such-id", "en"), ErrNotFound)

	got, err := s.GetUserByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.Password)
	require.Equal(t, "en", got.PreferredLanguage)
}

func TestSQLiteClientLifecycle(t *testing.T) {
	s := newTestSQLite(t)

	client := &OAuthClient{
		ID:                   uuid.NewString(),
		Name:                 "app",
		ClientID:             "cid",
		ClientSecret:         "secret",
		RedirectURIs:         []string{"https://a/cb", "https://b/cb"},
		AllowedGrantTypes:    []string{"authorization_code"},
		Scopes:               []string{"read"},
		IsActive:             true,
		AccessTokenLifetime:  3600,
		RefreshTokenLifetime: 2592000,
	}
	created, err := s.CreateClient(client)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a/cb", "https://b/cb"}, created.RedirectURIs)

	byClientID, err := s.GetClientByClientID("cid")
	require.NoError(t, err)
	require.Equal(t, client.ID, byClientID.ID)

	created.Name = "renamed"
	created.IsActive = false
	require.NoError(t, s.UpdateClient(created))

	got, err := s.GetClientByID(client.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)
	require.False(t, got.IsActive)
	require.Equal(t, "cid", got.ClientID)
	require.Equal(t, "secret", got.ClientSecret)

	list, err := s.ListClients()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteClient(client.ID))
	require.ErrorIs(t, s.DeleteClient(client.ID), ErrNotFound)

	gone, err := s.GetClientByID(client.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestSQLiteAuthCodeConsumeOnce(t *testing.T) {
	s := newTestSQLite(t)

	code := &AuthCode{
		Code:        "abc123",
		ClientID:    "cid",
		UserID:      "uid",
		RedirectURI: "https://a/cb",
		Scopes:      []string{"read", "write"},
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.CreateAuthCode(code))

	// wrong client cannot consume
	got, err := s.ConsumeAuthCode("abc123", "other")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.ConsumeAuthCode("abc123", "cid")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "uid", got.UserID)
	require.Equal(t, "https://a/cb", got.RedirectURI)
	require.Equal(t, []string{"read", "write"}, got.Scopes)

	// second consume finds nothing
	got, err = s.ConsumeAuthCode("abc123", "cid")
	require.NoError(t, err)
	require.Nil(t, got)
}
