package main

import (
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

const pgUserColumns = `id,username,email,phone_number,password,preferred_language,roles,login_attempts,is_locked,lock_until,last_login_attempt,last_login_date,is_active`

func scanPGUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var roles string
	var phone sql.NullString
	var lockUntil, lastAttempt, lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &phone, &u.Password, &u.PreferredLanguage,
		&roles, &u.LoginAttempts, &u.IsLocked, &lockUntil, &lastAttempt, &lastLogin, &u.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.PhoneNumber = phone.String
	u.Roles = splitList(roles)
	u.LockUntil = timePtr(lockUntil)
	u.LastLoginAttempt = timePtr(lastAttempt)
	u.LastLoginDate = timePtr(lastLogin)
	return &u, nil
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func (p *PostgresDB) CreateUser(u *User) (*User, error) {
	_, err := p.db.Exec(`INSERT INTO users(id,username,email,phone_number,password,preferred_language,roles,is_active,created_at,updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,true,now(),now())`,
		u.ID, u.Username, u.Email, u.PhoneNumber, u.Password, u.PreferredLanguage, joinList(u.Roles))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p.GetUserByID(u.ID)
}

func (p *PostgresDB) GetUserByUsername(username string) (*User, error) {
	return scanPGUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE username = $1`, username))
}

func (p *PostgresDB) GetUserByEmail(email string) (*User, error) {
	return scanPGUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) GetUserByID(id string) (*User, error) {
	return scanPGUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) ResetLock(userID string) error {
	_, err := p.db.Exec(`UPDATE users SET is_locked = false, login_attempts = 0, lock_until = NULL WHERE id = $1`, userID)
	return err
}

func (p *PostgresDB) RecordLoginSuccess(userID string) error {
	_, err := p.db.Exec(`UPDATE users SET login_attempts = 0, is_locked = false, lock_until = NULL, last_login_date = now() WHERE id = $1`, userID)
	return err
}

func (p *PostgresDB) RecordLoginFailure(userID string, maxAttempts int, lockFor time.Duration) (*User, error) {
	// single statement with RETURNING keeps the read-modify-write atomic
	// under concurrent failed attempts for the same account
	row := p.db.QueryRow(`UPDATE users SET
			login_attempts = login_attempts + 1,
			last_login_attempt = now(),
			is_locked = (login_attempts + 1 >= $1) OR is_locked,
			lock_until = CASE WHEN login_attempts + 1 >= $1 THEN $2 ELSE lock_until END
		WHERE id = $3
		RETURNING `+pgUserColumns,
		maxAttempts, time.Now().Add(lockFor), userID)
	return scanPGUser(row)
}

func (p *PostgresDB) UpdatePassword(email, passwordHash string) error {
	res, err := p.db.Exec(`UPDATE users SET password = $1, updated_at = now() WHERE email = $2`, passwordHash, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) UpdatePreferredLanguage(userID, language string) error {
	res, err := p.db.Exec(`UPDATE users SET preferred_language = $1, updated_at = now() WHERE id = $2`, language, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const pgClientColumns = `id,name,description,client_id,client_secret,redirect_uris,allowed_grant_types,scopes,is_active,access_token_lifetime,refresh_token_lifetime`

func scanPGClient(row interface{ Scan(...interface{}) error }) (*OAuthClient, error) {
	var c OAuthClient
	var desc sql.NullString
	var uris, grants, scopes string
	if err := row.Scan(&c.ID, &c.Name, &desc, &c.ClientID, &c.ClientSecret, &uris, &grants, &scopes,
		&c.IsActive, &c.AccessTokenLifetime, &c.RefreshTokenLifetime); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.Description = desc.String
	c.RedirectURIs = splitList(uris)
	c.AllowedGrantTypes = splitList(grants)
	c.Scopes = splitList(scopes)
	return &c, nil
}

func (p *PostgresDB) CreateClient(c *OAuthClient) (*OAuthClient, error) {
	_, err := p.db.Exec(`INSERT INTO oauth_clients(id,name,description,client_id,client_secret,redirect_uris,allowed_grant_types,scopes,is_active,access_token_lifetime,refresh_token_lifetime,created_at,updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())`,
		c.ID, c.Name, c.Description, c.ClientID, c.ClientSecret, joinList(c.RedirectURIs),
		joinList(c.AllowedGrantTypes), joinList(c.Scopes), c.IsActive,
		c.AccessTokenLifetime, c.RefreshTokenLifetime)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p.GetClientByID(c.ID)
}

func (p *PostgresDB) GetClientByID(id string) (*OAuthClient, error) {
	return scanPGClient(p.db.QueryRow(`SELECT `+pgClientColumns+` FROM oauth_clients WHERE id = $1`, id))
}

func (p *PostgresDB) GetClientByClientID(clientID string) (*OAuthClient, error) {
	return scanPGClient(p.db.QueryRow(`SELECT `+pgClientColumns+` FROM oauth_clients WHERE client_id = $1`, clientID))
}

func (p *PostgresDB) ListClients() ([]*OAuthClient, error) {
	rows, err := p.db.Query(`SELECT ` + pgClientColumns + ` FROM oauth_clients ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clients []*OAuthClient
	for rows.Next() {
		c, err := scanPGClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (p *PostgresDB) UpdateClient(c *OAuthClient) error {
	// client_id and client_secret are deliberately not updatable
	res, err := p.db.Exec(`UPDATE oauth_clients SET name = $1, description = $2, redirect_uris = $3, allowed_grant_types = $4, scopes = $5, is_active = $6, access_token_lifetime = $7, refresh_token_lifetime = $8, updated_at = now() WHERE id = $9`,
		c.Name, c.Description, joinList(c.RedirectURIs), joinList(c.AllowedGrantTypes),
		joinList(c.Scopes), c.IsActive, c.AccessTokenLifetime, c.RefreshTokenLifetime, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) DeleteClient(id string) error {
	res, err := p.db.Exec(`DELETE FROM oauth_clients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) CreateAuthCode(c *AuthCode) error {
	_, err := p.db.Exec(`INSERT INTO oauth_auth_codes(code,client_id,user_id,redirect_uri,scopes,expires_at,created_at)
		VALUES($1,$2,$3,$4,$5,$6,now())`,
		c.Code, c.ClientID, c.UserID, c.RedirectURI, joinList(c.Scopes), c.ExpiresAt)
	return err
}

func (p *PostgresDB) ConsumeAuthCode(code, clientID string) (*AuthCode, error) {
	// DELETE ... RETURNING is a single atomic statement: exactly one of any
	// number of concurrent exchanges gets the row back
	row := p.db.QueryRow(`DELETE FROM oauth_auth_codes WHERE code = $1 AND client_id = $2
		RETURNING code,client_id,user_id,redirect_uri,scopes,expires_at`, code, clientID)
	var c AuthCode
	var uri sql.NullString
	var scopes string
	if err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &uri, &scopes, &c.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.RedirectURI = uri.String
	c.Scopes = splitList(scopes)
	return &c, nil
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
