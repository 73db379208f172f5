// Package credentials seals account passwords for storage and turns stored
// bindings back into usable login material.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/persistence"
)

var (
	ErrInvalidKey    = errors.New("credentials: key must be 32 bytes of hex")
	ErrInvalidSealed = errors.New("credentials: invalid sealed value")
)

// sealedPrefix versions the on-disk format so a future scheme change can
// coexist with old rows.
const sealedPrefix = "$xchacha20$"

// Store seals and unseals binding passwords. The campus login needs the
// plaintext back, so passwords are encrypted rather than hashed.
type Store struct {
	key []byte
}

// NewStore parses a hex-encoded 256-bit key.
func NewStore(hexKey string) (*Store, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &Store{key: key}, nil
}

// Seal encrypts a plaintext password for storage.
func (s *Store) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("credentials: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Open decrypts a sealed password.
func (s *Store) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", ErrInvalidSealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", ErrInvalidSealed
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("credentials: init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidSealed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidSealed
	}
	return string(plaintext), nil
}

// Credentials unseals a stored binding into campus login material.
func (s *Store) Credentials(binding persistence.Binding) (campus.Credentials, error) {
	password, err := s.Open(binding.SealedPassword)
	if err != nil {
		return campus.Credentials{}, err
	}
	variant, err := campus.ParseVariant(binding.Variant)
	if err != nil {
		return campus.Credentials{}, err
	}
	return campus.Credentials{
		AccountID: binding.AccountID,
		Password:  password,
		Variant:   variant,
	}, nil
}
