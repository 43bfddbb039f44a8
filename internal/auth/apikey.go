package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries agency API keys on integration requests.
const APIKeyHeader = "X-API-Key"

const apiKeyScheme = "rr"

// GenerateAPIKey returns a new key of the form rr_<prefix>_<secret>, its
// lookup prefix and the bcrypt hash to store. The full key is only ever
// shown once.
func GenerateAPIKey() (key, prefix, hash string, err error) {
	p := make([]byte, 4)
	s := make([]byte, 24)
	if _, err := rand.Read(p); err != nil {
		return "", "", "", fmt.Errorf("generate prefix: %w", err)
	}
	if _, err := rand.Read(s); err != nil {
		return "", "", "", fmt.Errorf("generate secret: %w", err)
	}
	prefix = hex.EncodeToString(p)
	key = apiKeyScheme + "_" + prefix + "_" + hex.EncodeToString(s)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash api key: %w", err)
	}
	return key, prefix, string(h), nil
}

// ParseAPIKey returns the lookup prefix of key, or false if key is not
// well formed.
func ParseAPIKey(key string) (string, bool) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme || len(parts[1]) != 8 || parts[2] == "" {
		return "", false
	}
	return parts[1], true
}

// CheckAPIKey reports whether key matches the stored hash.
func CheckAPIKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
