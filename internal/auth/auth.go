// Package auth validates admin API keys for the control plane.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
)

// Authenticator validates admin API keys against configured SHA-256 hashes.
type Authenticator struct {
	keys map[string]string // keyhash -> description
}

// NewAuthenticator creates an authenticator from the configured key hashes.
func NewAuthenticator(keys []config.APIKeyConfig) *Authenticator {
	a := &Authenticator{
		keys: make(map[string]string),
	}
	for _, k := range keys {
		a.keys[strings.ToLower(k.KeyHash)] = k.Description
	}
	return a
}

// Enabled reports whether any keys are configured.
func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0
}

// ValidateAPIKey validates an API key and returns its description.
func (a *Authenticator) ValidateAPIKey(apiKey string) (string, error) {
	keyHash := HashAPIKey(apiKey)

	// Constant-time comparison to prevent timing attacks
	for hash, description := range a.keys {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(hash)) == 1 {
			return description, nil
		}
	}

	return "", fmt.Errorf("invalid API key")
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
