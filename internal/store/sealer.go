package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"fireedge.io/gateway/models"
)

// sealedPrefix marks a column value encrypted by a sealer.
const sealedPrefix = "sealed:v1:"

// sealer encrypts backend credentials stored next to a session with
// AES-256-GCM. A nil sealer stores values as given.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(secret string) *sealer {
	key := sha256.Sum256([]byte("fireedge session credentials\x00" + secret))
	// A 32-byte key always yields an AES-256 block and a standard GCM.
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	return &sealer{aead: aead}
}

func (s *sealer) seal(plain string) (string, error) {
	if s == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// open reverses seal. Values without the prefix were written before sealing
// was enabled and are returned unchanged.
func (s *sealer) open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", fmt.Errorf("%w: sealed credentials but no key configured", models.ErrDatabaseError)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: malformed sealed credentials", models.ErrDatabaseError)
	}
	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: cannot unseal credentials (was the secret rotated?)", models.ErrDatabaseError)
	}
	return string(plain), nil
}
