package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KeyPair holds one slot of rotating asymmetric signing material.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
	ExpiresAt  time.Time
}

// Rotator maintains the current and next RSA keypairs and rotates them on a
// timer. New tokens are always signed with the current pair; the pair retired
// at the last promotion is kept available for verification for one access
// token lifetime so in-flight tokens stay verifiable across a rotation.
type Rotator struct {
	dir      string
	interval time.Duration
	delay    time.Duration
	overlap  time.Duration

	mu            sync.RWMutex
	current       *KeyPair
	next          *KeyPair
	previous      *KeyPair
	previousUntil time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRotator loads or generates both key slots. interval is the rotation
// period and key expiry window, delay the propagation wait before promotion,
// overlap how long a retired key remains usable for verification.
func NewRotator(dir string, interval, delay, overlap time.Duration) (*Rotator, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating keys dir: %w", err)
	}

	r := &Rotator{dir: dir, interval: interval, delay: delay, overlap: overlap}

	current, err := r.loadOrGenerate("current")
	if err != nil {
		return nil, err
	}
	next, err := r.loadOrGenerate("next")
	if err != nil {
		return nil, err
	}

	r.current = current
	r.next = next

	if err := r.saveKeys(); err != nil {
		return nil, err
	}
	log.Println("Key rotation slots initialized")
	return r, nil
}

// Start launches the recurring rotation task. Stop cancels it.
func (r *Rotator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.rotate(ctx); err != nil {
					log.Printf("key rotation failed: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the rotation timer and waits for the background task to exit.
func (r *Rotator) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// rotate generates a fresh pair, waits the propagation delay so verifiers
// caching the outgoing public key can catch up, then promotes next to current
// in a single locked step and persists both slots. A failed tick leaves the
// in-memory slots consistent; the next tick starts over with a new pair.
func (r *Rotator) rotate(ctx context.Context) error {
	newPair, err := r.generate()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.delay):
	}

	r.mu.Lock()
	r.previous = r.current
	r.previousUntil = time.Now().Add(r.overlap)
	r.current = r.next
	r.next = newPair
	r.mu.Unlock()

	if err := r.saveKeys(); err != nil {
		return err
	}
	log.Println("Key rotation complete")
	return nil
}

// CurrentKeyPair returns the pair used to sign new tokens.
func (r *Rotator) CurrentKeyPair() *KeyPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// NextKeyPair returns the pre-generated pair promoted at the next rotation.
func (r *Rotator) NextKeyPair() *KeyPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// VerificationKeys returns the public keys a verifier should accept: the
// current key, plus the retired one while its overlap window lasts.
func (r *Rotator) VerificationKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := []string{r.current.PublicKey}
	if r.previous != nil && time.Now().Before(r.previousUntil) {
		keys = append(keys, r.previous.PublicKey)
	}
	return keys
}

func (r *Rotator) generate() (*KeyPair, error) {
	pub, priv, err := generateRSAPEM()
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PublicKey:  string(pub),
		PrivateKey: string(priv),
		ExpiresAt:  time.Now().Add(r.interval),
	}, nil
}

func (r *Rotator) loadOrGenerate(slot string) (*KeyPair, error) {
	pubPath := filepath.Join(r.dir, slot+"_public.key")
	privPath := filepath.Join(r.dir, slot+"_private.key")
	expPath := filepath.Join(r.dir, slot+"_expires_at.txt")

	pub, err1 := os.ReadFile(pubPath)
	priv, err2 := os.ReadFile(privPath)
	exp, err3 := os.ReadFile(expPath)
	if err1 == nil && err2 == nil && err3 == nil {
		expiresAt, err := time.Parse(time.RFC3339, string(exp))
		if err == nil && expiresAt.After(time.Now()) {
			return &KeyPair{PublicKey: string(pub), PrivateKey: string(priv), ExpiresAt: expiresAt}, nil
		}
	}

	return r.generate()
}

func (r *Rotator) saveKeys() error {
	r.mu.RLock()
	slots := map[string]*KeyPair{"current": r.current, "next": r.next}
	r.mu.RUnlock()

	for slot, kp := range slots {
		files := map[string]string{
			slot + "_public.key":     kp.PublicKey,
			slot + "_private.key":    kp.PrivateKey,
			slot + "_expires_at.txt": kp.ExpiresAt.Format(time.RFC3339),
		}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(r.dir, name), []byte(content), 0o600); err != nil {
				return fmt.Errorf("persisting %s: %w", name, err)
			}
		}
	}
	return nil
}
