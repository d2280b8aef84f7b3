package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"

	cfgpkg "github.com/songth1ef/go-auth/internal/config"
)

// App wires the service components together for the HTTP layer.
type App struct {
	cfg          *cfgpkg.Config
	store        Store
	keys         *KeyStore
	rotator      *Rotator
	signer       *Signer
	auth         *Authenticator
	oauth        *OAuthCoordinator
	verification *VerificationService
	rateLimiter  *RateLimiter
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func (a *App) routes() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := a.store.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	// Public authentication endpoints, rate limited per caller
	public := r.NewRoute().Subrouter()
	public.Use(a.RateLimit)
	public.HandleFunc("/auth/register", a.HandleRegister).Methods("POST")
	public.HandleFunc("/auth/login", a.HandleLogin).Methods("POST")
	public.HandleFunc("/auth/refresh", a.HandleRefresh).Methods("POST")
	public.HandleFunc("/auth/validate", a.HandleValidate).Methods("GET")
	public.HandleFunc("/auth/forgot-password", a.HandleForgotPassword).Methods("POST")
	public.HandleFunc("/auth/reset-password", a.HandleResetPassword).Methods("POST")
	public.HandleFunc("/oauth/token", a.HandleToken).Methods("POST")

	// Endpoints requiring an authenticated principal
	authed := r.NewRoute().Subrouter()
	authed.Use(a.JWTAuth)
	authed.HandleFunc("/oauth/authorize", a.HandleAuthorize).Methods("GET")
	authed.HandleFunc("/users/language", a.HandleUpdateLanguage).Methods("PUT")

	// Admin endpoints for managing OAuth clients
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(a.JWTAuth)
	admin.HandleFunc("/clients", a.HandleCreateClient).Methods("POST")
	admin.HandleFunc("/clients", a.HandleListClients).Methods("GET")
	admin.HandleFunc("/clients/{id}", a.HandleGetClient).Methods("GET")
	admin.HandleFunc("/clients/{id}", a.HandleUpdateClient).Methods("PUT")
	admin.HandleFunc("/clients/{id}", a.HandleDeleteClient).Methods("DELETE")

	return r
}

func main() {
	c, err := cfgpkg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// key material first: the rotator and signer depend on it
	keys := NewKeyStore(c.KeysDir)
	if err := keys.EnsureKeys(); err != nil {
		log.Fatalf("key material: %v", err)
	}

	overlap := parseExpiry(c.JWTExpiresIn, time.Hour)
	rotator, err := NewRotator(c.KeysDir, c.KeyRotationInterval, c.KeyPropagationDelay, overlap)
	if err != nil {
		log.Fatalf("key rotation init: %v", err)
	}
	rotator.Start(context.Background())

	signer := NewSigner(c, keys, rotator)

	var db Store
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}

		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Printf("migrations warning: %v", err)
		}

		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	var cache CodeCache
	if c.RedisAddr != "" {
		rc, err := NewRedisCodeCache(c.RedisAddr)
		if err != nil {
			log.Fatalf("redis init: %v", err)
		}
		cache = rc
	} else {
		log.Println("No REDIS_ADDR set; verification codes use the in-memory cache")
		cache = NewMemoryCodeCache()
	}

	auth := NewAuthenticator(c, db, signer)

	app := &App{
		cfg:          c,
		store:        db,
		keys:         keys,
		rotator:      rotator,
		signer:       signer,
		auth:         auth,
		oauth:        NewOAuthCoordinator(c, db, auth),
		verification: NewVerificationService(c, cache, nil),
		rateLimiter:  NewRateLimiter(60),
	}

	srv := &http.Server{Handler: app.routes(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting auth server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rotator.Stop()
	if closer, ok := app.store.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	fmt.Println("Server exited properly")
}
