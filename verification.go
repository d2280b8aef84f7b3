package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/songth1ef/go-auth/internal/config"
)

// characters that are hard to confuse on screen (no 0/1/I/O)
const verificationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrCodeNotFound = errors.New("verification code expired or not found")
	ErrCodeMismatch = errors.New("verification code incorrect")
)

// CodeCache is the TTL key-value store backing verification codes.
type CodeCache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RedisCodeCache stores codes in Redis with native expiry.
type RedisCodeCache struct {
	client *redis.Client
}

// NewRedisCodeCache connects to the given address and verifies the connection.
func NewRedisCodeCache(addr string) (*RedisCodeCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCodeCache{client: client}, nil
}

func (c *RedisCodeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCodeCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCodeNotFound
	}
	return v, err
}

func (c *RedisCodeCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// MemoryCodeCache is the fallback when no Redis address is configured.
type MemoryCodeCache struct {
	mu    sync.Mutex
	items map[string]memoryCode
}

type memoryCode struct {
	value     string
	expiresAt time.Time
}

func NewMemoryCodeCache() *MemoryCodeCache {
	return &MemoryCodeCache{items: map[string]memoryCode{}}
}

func (c *MemoryCodeCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryCode{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCodeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || time.Now().After(item.expiresAt) {
		delete(c.items, key)
		return "", ErrCodeNotFound
	}
	return item.value, nil
}

func (c *MemoryCodeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Mailer delivers verification codes. Delivery is an external collaborator;
// the default implementation only logs.
type Mailer interface {
	SendVerificationCode(email, code, lang string) error
}

type logMailer struct{}

func (logMailer) SendVerificationCode(email, _, _ string) error {
	log.Printf("verification code issued for %s (no mailer configured)", email)
	return nil
}

// VerificationService generates, stores and checks short-lived verification
// codes used by the password-reset flow.
type VerificationService struct {
	cfg    *config.Config
	cache  CodeCache
	mailer Mailer
}

func NewVerificationService(cfg *config.Config, cache CodeCache, mailer Mailer) *VerificationService {
	if mailer == nil {
		mailer = logMailer{}
	}
	return &VerificationService{cfg: cfg, cache: cache, mailer: mailer}
}

func verificationKey(email string) string {
	return "verification_code:" + email
}

// GenerateCode produces a random code from the confusion-free alphabet.
func (v *VerificationService) GenerateCode() (string, error) {
	length := v.cfg.VerificationCodeLength
	if length <= 0 {
		length = 6
	}
	code := make([]byte, length)
	max := big.NewInt(int64(len(verificationAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = verificationAlphabet[n.Int64()]
	}
	return string(code), nil
}

// SendCode generates a code, stores it under the email with the configured
// TTL and hands it to the mailer. A failed delivery removes the stored code.
func (v *VerificationService) SendCode(ctx context.Context, email, lang string) error {
	code, err := v.GenerateCode()
	if err != nil {
		return err
	}

	key := verificationKey(email)
	if err := v.cache.Set(ctx, key, code, v.cfg.VerificationCodeExpiry); err != nil {
		return err
	}

	if err := v.mailer.SendVerificationCode(email, code, lang); err != nil {
		log.Printf("could not deliver verification code to %s: %v", email, err)
		_ = v.cache.Del(ctx, key)
		return err
	}
	return nil
}

// VerifyCode compares the supplied code with the stored one and consumes it
// on success when deleteOnSuccess is set.
func (v *VerificationService) VerifyCode(ctx context.Context, email, code string, deleteOnSuccess bool) error {
	key := verificationKey(email)
	stored, err := v.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if stored != code {
		return ErrCodeMismatch
	}
	if deleteOnSuccess {
		if err := v.cache.Del(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
