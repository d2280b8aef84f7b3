package main

import (
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// Store interface for database operations. Lookups return (nil, nil) when no
// record matches; callers translate that into their own not-found errors.
type Store interface {
	Init() error
	// User operations
	CreateUser(u *User) (*User, error)
	GetUserByUsername(username string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id string) (*User, error)
	// ResetLock clears the lockout state after an expired lock window.
	ResetLock(userID string) error
	// RecordLoginSuccess resets the attempt counter and stamps the login.
	RecordLoginSuccess(userID string) error
	// RecordLoginFailure atomically increments the attempt counter and locks
	// the account once maxAttempts is reached. It returns the updated record.
	RecordLoginFailure(userID string, maxAttempts int, lockFor time.Duration) (*User, error)
	UpdatePassword(email, passwordHash string) error
	UpdatePreferredLanguage(userID, language string) error
	// OAuth client operations
	CreateClient(c *OAuthClient) (*OAuthClient, error)
	GetClientByID(id string) (*OAuthClient, error)
	GetClientByClientID(clientID string) (*OAuthClient, error)
	ListClients() ([]*OAuthClient, error)
	UpdateClient(c *OAuthClient) error
	DeleteClient(id string) error
	// Authorization code operations
	CreateAuthCode(c *AuthCode) error
	// ConsumeAuthCode atomically deletes the code record and returns it.
	// Concurrent calls for the same code yield exactly one non-nil result.
	ConsumeAuthCode(code, clientID string) (*AuthCode, error)
}

// ErrDuplicate is returned when a unique constraint (username, email, client
// name) is violated.
var ErrDuplicate = errors.New("record already exists")

// simple-array encoding shared by the SQL adapters
func joinList(ss []string) string { return strings.Join(ss, ",") }
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Memory store
type MemDB struct {
	mu      sync.Mutex
	users   map[string]*User
	clients map[string]*OAuthClient
	codes   map[string]*AuthCode
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:   map[string]*User{},
		clients: map[string]*OAuthClient{},
		codes:   map[string]*AuthCode{},
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return nil, ErrDuplicate
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemDB) GetUserByUsername(username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) GetUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) ResetLock(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.IsLocked = false
		u.LoginAttempts = 0
		u.LockUntil = nil
	}
	return nil
}

func (m *MemDB) RecordLoginSuccess(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		now := time.Now()
		u.LoginAttempts = 0
		u.IsLocked = false
		u.LockUntil = nil
		u.LastLoginDate = &now
	}
	return nil
}

func (m *MemDB) RecordLoginFailure(userID string, maxAttempts int, lockFor time.Duration) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	u.LoginAttempts++
	u.LastLoginAttempt = &now
	if u.LoginAttempts >= maxAttempts {
		u.IsLocked = true
		until := now.Add(lockFor)
		u.LockUntil = &until
	}
	cp := *u
	return &cp, nil
}

func (m *MemDB) UpdatePassword(email, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.Password = passwordHash
			u.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemDB) UpdatePreferredLanguage(userID, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.PreferredLanguage = language
		u.UpdatedAt = time.Now()
		return nil
	}
	return ErrNotFound
}

func (m *MemDB) CreateClient(c *OAuthClient) (*OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.clients {
		if existing.Name == c.Name {
			return nil, ErrDuplicate
		}
	}
	cp := *c
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.clients[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemDB) GetClientByID(id string) (*OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) GetClientByClientID(clientID string) (*OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.ClientID == clientID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) ListClients() ([]*OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*OAuthClient, 0, len(m.clients))
	for _, c := range m.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemDB) UpdateClient(c *OAuthClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.clients[c.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *c
	// client credentials are immutable once generated
	cp.ClientID = existing.ClientID
	cp.ClientSecret = existing.ClientSecret
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	m.clients[c.ID] = &cp
	return nil
}

func (m *MemDB) DeleteClient(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return ErrNotFound
	}
	delete(m.clients, id)
	return nil
}

func (m *MemDB) CreateAuthCode(c *AuthCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.CreatedAt = time.Now()
	m.codes[cp.Code] = &cp
	return nil
}

func (m *MemDB) ConsumeAuthCode(code, clientID string) (*AuthCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.ClientID != clientID {
		return nil, nil
	}
	delete(m.codes, code)
	cp := *c
	return &cp, nil
}

// SQLite store
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// serialize access: SQLite tolerates one writer at a time, and the
	// read-modify-write statements below must not interleave
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE,
			email TEXT UNIQUE,
			phone_number TEXT,
			password TEXT,
			preferred_language TEXT DEFAULT 'zh',
			roles TEXT DEFAULT '',
			login_attempts INTEGER DEFAULT 0,
			is_locked INTEGER DEFAULT 0,
			lock_until INTEGER,
			last_login_attempt INTEGER,
			last_login_date INTEGER,
			is_active INTEGER DEFAULT 1,
			created_at TEXT,
			updated_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE,
			description TEXT,
			client_id TEXT UNIQUE,
			client_secret TEXT,
			redirect_uris TEXT DEFAULT '',
			allowed_grant_types TEXT DEFAULT 'authorization_code',
			scopes TEXT DEFAULT '',
			is_active INTEGER DEFAULT 1,
			access_token_lifetime INTEGER DEFAULT 3600,
			refresh_token_lifetime INTEGER DEFAULT 2592000,
			created_at TEXT,
			updated_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS oauth_auth_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT,
			user_id TEXT,
			redirect_uri TEXT,
			scopes TEXT DEFAULT '',
			expires_at INTEGER,
			created_at TEXT
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

const userColumns = `id,username,email,phone_number,password,preferred_language,roles,login_attempts,is_locked,lock_until,last_login_attempt,last_login_date,is_active`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var roles string
	var isLocked, isActive int
	var lockUntil, lastAttempt, lastLogin sql.NullInt64
	var phone sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &phone, &u.Password, &u.PreferredLanguage,
		&roles, &u.LoginAttempts, &isLocked, &lockUntil, &lastAttempt, &lastLogin, &isActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.PhoneNumber = phone.String
	u.Roles = splitList(roles)
	u.IsLocked = isLocked != 0
	u.IsActive = isActive != 0
	u.LockUntil = unixPtr(lockUntil)
	u.LastLoginAttempt = unixPtr(lastAttempt)
	u.LastLoginDate = unixPtr(lastLogin)
	return &u, nil
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}

func (s *SQLiteDB) CreateUser(u *User) (*User, error) {
	_, err := s.db.Exec(`INSERT INTO users(id,username,email,phone_number,password,preferred_language,roles,is_active,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?,1,datetime('now'),datetime('now'))`,
		u.ID, u.Username, u.Email, u.PhoneNumber, u.Password, u.PreferredLanguage, joinList(u.Roles))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s.GetUserByID(u.ID)
}

func (s *SQLiteDB) GetUserByUsername(username string) (*User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLiteDB) GetUserByEmail(email string) (*User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(id string) (*User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) ResetLock(userID string) error {
	_, err := s.db.Exec(`UPDATE users SET is_locked = 0, login_attempts = 0, lock_until = NULL WHERE id = ?`, userID)
	return err
}

func (s *SQLiteDB) RecordLoginSuccess(userID string) error {
	_, err := s.db.Exec(`UPDATE users SET login_attempts = 0, is_locked = 0, lock_until = NULL, last_login_date = ? WHERE id = ?`,
		time.Now().Unix(), userID)
	return err
}

func (s *SQLiteDB) RecordLoginFailure(userID string, maxAttempts int, lockFor time.Duration) (*User, error) {
	now := time.Now()
	// single statement so two concurrent failures cannot both observe the
	// same attempt count
	_, err := s.db.Exec(`UPDATE users SET
			login_attempts = login_attempts + 1,
			last_login_attempt = ?,
			is_locked = CASE WHEN login_attempts + 1 >= ? THEN 1 ELSE is_locked END,
			lock_until = CASE WHEN login_attempts + 1 >= ? THEN ? ELSE lock_until END
		WHERE id = ?`,
		now.Unix(), maxAttempts, maxAttempts, now.Add(lockFor).Unix(), userID)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(userID)
}

func (s *SQLiteDB) UpdatePassword(email, passwordHash string) error {
	res, err := s.db.Exec(`UPDATE users SET password = ?, updated_at = datetime('now') WHERE email = ?`, passwordHash, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) UpdatePreferredLanguage(userID, language string) error {
	res, err := s.db.Exec(`UPDATE users SET preferred_language = ?, updated_at = datetime('now') WHERE id = ?`, language, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const clientColumns = `id,name,description,client_id,client_secret,redirect_uris,allowed_grant_types,scopes,is_active,access_token_lifetime,refresh_token_lifetime`

func scanClient(row interface{ Scan(...interface{}) error }) (*OAuthClient, error) {
	var c OAuthClient
	var desc sql.NullString
	var uris, grants, scopes string
	var active int
	if err := row.Scan(&c.ID, &c.Name, &desc, &c.ClientID, &c.ClientSecret, &uris, &grants, &scopes,
		&active, &c.AccessTokenLifetime, &c.RefreshTokenLifetime); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.Description = desc.String
	c.RedirectURIs = splitList(uris)
	c.AllowedGrantTypes = splitList(grants)
	c.Scopes = splitList(scopes)
	c.IsActive = active != 0
	return &c, nil
}

func (s *SQLiteDB) CreateClient(c *OAuthClient) (*OAuthClient, error) {
	_, err := s.db.Exec(`INSERT INTO oauth_clients(id,name,description,client_id,client_secret,redirect_uris,allowed_grant_types,scopes,is_active,access_token_lifetime,refresh_token_lifetime,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,datetime('now'),datetime('now'))`,
		c.ID, c.Name, c.Description, c.ClientID, c.ClientSecret, joinList(c.RedirectURIs),
		joinList(c.AllowedGrantTypes), joinList(c.Scopes), boolInt(c.IsActive),
		c.AccessTokenLifetime, c.RefreshTokenLifetime)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s.GetClientByID(c.ID)
}

func (s *SQLiteDB) GetClientByID(id string) (*OAuthClient, error) {
	return scanClient(s.db.QueryRow(`SELECT `+clientColumns+` FROM oauth_clients WHERE id = ?`, id))
}

func (s *SQLiteDB) GetClientByClientID(clientID string) (*OAuthClient, error) {
	return scanClient(s.db.QueryRow(`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = ?`, clientID))
}

func (s *SQLiteDB) ListClients() ([]*OAuthClient, error) {
	rows, err := s.db.Query(`SELECT ` + clientColumns + ` FROM oauth_clients ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clients []*OAuthClient
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *SQLiteDB) UpdateClient(c *OAuthClient) error {
	// client_id and client_secret are deliberately not updatable
	res, err := s.db.Exec(`UPDATE oauth_clients SET name = ?, description = ?, redirect_uris = ?, allowed_grant_types = ?, scopes = ?, is_active = ?, access_token_lifetime = ?, refresh_token_lifetime = ?, updated_at = datetime('now') WHERE id = ?`,
		c.Name, c.Description, joinList(c.RedirectURIs), joinList(c.AllowedGrantTypes),
		joinList(c.Scopes), boolInt(c.IsActive), c.AccessTokenLifetime, c.RefreshTokenLifetime, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) DeleteClient(id string) error {
	res, err := s.db.Exec(`DELETE FROM oauth_clients WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) CreateAuthCode(c *AuthCode) error {
	_, err := s.db.Exec(`INSERT INTO oauth_auth_codes(code,client_id,user_id,redirect_uri,scopes,expires_at,created_at)
		VALUES(?,?,?,?,?,?,datetime('now'))`,
		c.Code, c.ClientID, c.UserID, c.RedirectURI, joinList(c.Scopes), c.ExpiresAt.Unix())
	return err
}

func (s *SQLiteDB) ConsumeAuthCode(code, clientID string) (*AuthCode, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT code,client_id,user_id,redirect_uri,scopes,expires_at FROM oauth_auth_codes WHERE code = ? AND client_id = ?`, code, clientID)
	var c AuthCode
	var uri sql.NullString
	var scopes string
	var expiresAt int64
	if err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &uri, &scopes, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.RedirectURI = uri.String
	c.Scopes = splitList(scopes)
	c.ExpiresAt = time.Unix(expiresAt, 0)

	res, err := tx.Exec(`DELETE FROM oauth_auth_codes WHERE code = ?`, code)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// a concurrent exchange already consumed it
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
