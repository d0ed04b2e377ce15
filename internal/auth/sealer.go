package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const sealerInfo = "blogcore provider access tokens v1"

// Sealer encrypts provider access tokens before they are written to the store.
//
// The key is derived from the session secret with HKDF-SHA256, so there is no
// second secret to manage. Each value gets a random 24-byte nonce which is
// prepended to the secretbox output; the result is base64url encoded.
type Sealer struct {
	key [32]byte
}

// NewSealer derives the sealing key from secret.
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: sealing secret must be at least 16 characters")
	}
	s := &Sealer{}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(sealerInfo))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("auth: deriving sealing key: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("auth: decoding sealed token: %w", err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", errors.New("auth: sealed token too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("auth: sealed token failed authentication")
	}
	return string(plain), nil
}
