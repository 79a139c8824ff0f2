package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

// API keys are handed out once at creation; only the SHA-256 hash is stored.
const apiKeyPrefix = "cpx_"

const apiKeyRandomBytes = 32

// GenerateAPIKey returns a new random account API key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateAPIKeyFormat rejects strings that cannot be a key we issued,
// before any database lookup happens.
func ValidateAPIKeyFormat(key string) error {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, apiKeyPrefix) {
		return errors.New("invalid api key prefix")
	}
	body := strings.TrimPrefix(trimmed, apiKeyPrefix)
	if len(body) != base64.RawURLEncoding.EncodedLen(apiKeyRandomBytes) {
		return errors.New("invalid api key length")
	}
	if _, err := base64.RawURLEncoding.DecodeString(body); err != nil {
		return errors.New("invalid api key encoding")
	}
	return nil
}
