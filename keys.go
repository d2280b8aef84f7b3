package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// KeyStore manages the file-backed signing material: an RSA keypair for
// asymmetric signing and a random shared secret for symmetric signing.
type KeyStore struct {
	dir string
}

func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

func (k *KeyStore) publicKeyPath() string    { return filepath.Join(k.dir, "public.key") }
func (k *KeyStore) privateKeyPath() string   { return filepath.Join(k.dir, "private.key") }
func (k *KeyStore) symmetricKeyPath() string { return filepath.Join(k.dir, "symmetric.key") }

// EnsureKeys generates and persists a full key set if any artifact is missing.
// It is safe to call on every startup.
func (k *KeyStore) EnsureKeys() error {
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return fmt.Errorf("creating keys dir: %w", err)
	}

	if fileExists(k.publicKeyPath()) && fileExists(k.privateKeyPath()) && fileExists(k.symmetricKeyPath()) {
		return nil
	}

	log.Println("Generating new keys...")

	pub, priv, err := generateRSAPEM()
	if err != nil {
		return err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating symmetric key: %w", err)
	}

	if err := os.WriteFile(k.publicKeyPath(), pub, 0o600); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := os.WriteFile(k.privateKeyPath(), priv, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(k.symmetricKeyPath(), []byte(base64.StdEncoding.EncodeToString(secret)), 0o600); err != nil {
		return fmt.Errorf("writing symmetric key: %w", err)
	}

	log.Println("Keys generated successfully")
	return nil
}

// GetPublicKey returns the PEM-encoded RSA public key.
func (k *KeyStore) GetPublicKey() (string, error) {
	return k.readKeyFile(k.publicKeyPath())
}

// GetPrivateKey returns the PEM-encoded RSA private key.
func (k *KeyStore) GetPrivateKey() (string, error) {
	return k.readKeyFile(k.privateKeyPath())
}

// GetSymmetricKey returns the base64-encoded shared secret.
func (k *KeyStore) GetSymmetricKey() (string, error) {
	return k.readKeyFile(k.symmetricKeyPath())
}

func (k *KeyStore) readKeyFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, filepath.Base(path))
		}
		return "", err
	}
	return string(b), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// generateRSAPEM produces a fresh 2048-bit RSA keypair encoded as
// SPKI (public) and PKCS#8 (private) PEM blocks.
func generateRSAPEM() (pub, priv []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generating RSA key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding private key: %w", err)
	}

	pub = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	priv = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	return pub, priv, nil
}
