package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port       string
	Env        string
	DBAdapter  string
	SQLiteFile string
	LogLevel   string

	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// JWT settings
	JWTAlgorithm        string
	JWTSymmetric        bool
	JWTExpiresIn        string
	JWTRefreshExpiresIn string
	JWTAudience         string
	JWTIssuer           string

	// Key material
	KeysDir             string
	KeyRotationInterval time.Duration
	KeyPropagationDelay time.Duration

	// Account lockout
	MaxLoginAttempts int
	LockoutDuration  string

	// Verification codes
	RedisAddr              string
	VerificationCodeLength int
	VerificationCodeExpiry time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	// If DSN is provided directly, use it
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// IsProduction reports whether the service runs in production-like mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

func New() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "8101"),
		Env:        getenv("ENV", getenv("NODE_ENV", "development")),
		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/auth.db"),
		LogLevel:   getenv("LOG_LEVEL", "info"),

		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "postgres")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "postgres")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "auth_service_dev")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),

		JWTAlgorithm:        getenv("JWT_ALGORITHM", "RS256"),
		JWTSymmetric:        getenv("JWT_SYMMETRIC_ENCRYPTION", "false") == "true",
		JWTExpiresIn:        getenv("JWT_EXPIRATION_TIME", "15m"),
		JWTRefreshExpiresIn: getenv("JWT_REFRESH_EXPIRATION", "7d"),
		JWTAudience:         getenv("JWT_AUDIENCE", "auth-service"),
		JWTIssuer:           getenv("JWT_ISSUER", "auth-server"),

		KeysDir:             getenv("KEYS_DIR", "./keys"),
		KeyPropagationDelay: getduration("KEY_PROPAGATION_DELAY", 5*time.Minute),

		MaxLoginAttempts: getint("MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:  getenv("LOGIN_LOCKOUT_TIME", "15m"),

		RedisAddr:              getenv("REDIS_ADDR", ""),
		VerificationCodeLength: getint("VERIFICATION_CODE_LENGTH", 6),
		VerificationCodeExpiry: time.Duration(getint("VERIFICATION_CODE_EXPIRY_MINUTES", 5)) * time.Minute,
	}

	// Rotation interval defaults to the key expiry window: 30 days in
	// production, 90 days otherwise.
	defRotation := 90 * 24 * time.Hour
	if c.IsProduction() {
		defRotation = 30 * 24 * time.Hour
	}
	c.KeyRotationInterval = getduration("KEY_ROTATION_INTERVAL", defRotation)

	switch c.JWTAlgorithm {
	case "HS256", "RS256":
	default:
		return nil, fmt.Errorf("unsupported JWT_ALGORITHM: %s", c.JWTAlgorithm)
	}

	// HS256 signs with the shared secret; RS256 with the rotated private key.
	if c.JWTAlgorithm == "HS256" && !c.JWTSymmetric {
		return nil, errors.New("JWT_ALGORITHM=HS256 requires JWT_SYMMETRIC_ENCRYPTION=true")
	}
	if c.JWTAlgorithm == "RS256" && c.JWTSymmetric {
		return nil, errors.New("JWT_ALGORITHM=RS256 requires JWT_SYMMETRIC_ENCRYPTION=false")
	}

	if c.DBAdapter == "postgres" {
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	}

	if c.DBAdapter == "sqlite" && c.SQLiteFile == "" {
		return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
	}

	// normalize port
	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
