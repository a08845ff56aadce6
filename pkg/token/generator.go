package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MinTokenLength is the shortest token the gateway accepts.
	MinTokenLength = 41

	// DefaultTokenBytes is the number of random bytes behind a token (44 chars encoded).
	DefaultTokenBytes = 32

	// BearerPrefix is the Authorization scheme carrying session tokens.
	BearerPrefix = "Bearer "
)

// Generate creates a random session token of DefaultTokenBytes entropy.
func Generate() (string, error) {
	return GenerateWithLength(DefaultTokenBytes)
}

// GenerateWithLength creates a random token from numBytes random bytes.
// numBytes below DefaultTokenBytes is rejected.
func GenerateWithLength(numBytes int) (string, error) {
	if numBytes < DefaultTokenBytes {
		return "", fmt.Errorf("token length must be at least %d bytes", DefaultTokenBytes)
	}

	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tok := base64.URLEncoding.EncodeToString(b)
	if len(tok) < MinTokenLength {
		return "", fmt.Errorf("generated token too short: got %d, need %d", len(tok), MinTokenLength)
	}

	return tok, nil
}

// Hash returns the hex HMAC-SHA256 of token keyed with secret.
func Hash(token, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate reports whether provided hashes to storedHash, in constant time.
func Validate(provided, secret, storedHash string) bool {
	providedHash := Hash(provided, secret)
	return hmac.Equal([]byte(providedHash), []byte(storedHash))
}

// ValidateLength rejects tokens shorter than MinTokenLength.
func ValidateLength(token string) error {
	if len(token) < MinTokenLength {
		return fmt.Errorf("token too short: got %d characters, need at least %d", len(token), MinTokenLength)
	}
	return nil
}

// FromAuthorization extracts the token from an "Authorization: Bearer <token>" value.
func FromAuthorization(header string) (string, bool) {
	if len(header) <= len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(BearerPrefix):])
	return tok, tok != ""
}
