package auth

import (
	"crypto/subtle"
	"strings"
)

// Credential is one configured API key. Either Key (plaintext) or KeyHash
// (a "PBKDF2$<iterations>$<base64Salt>$<base64Hash>" string from HashSecret)
// may be set; when both are present either match grants access.
type Credential struct {
	Key     string
	KeyHash string
}

// Authenticator decides whether a presented push secret is acceptable. It is
// built once from configuration and is safe for concurrent use.
type Authenticator struct {
	apiKey     string
	apiKeyHash string
	keys       []Credential
}

// NewAuthenticator builds an Authenticator from the legacy single key, its
// hashed form, and the configured credential list. Blank entries are kept but
// never match; whether any non-blank secret exists at all decides open-registry
// mode.
func NewAuthenticator(apiKey, apiKeyHash string, keys []Credential) *Authenticator {
	return &Authenticator{
		apiKey:     apiKey,
		apiKeyHash: apiKeyHash,
		keys:       keys,
	}
}

// Required reports whether any secret is configured. When it returns false the
// registry runs in open mode and every push is accepted without credentials.
func (a *Authenticator) Required() bool {
	if strings.TrimSpace(a.apiKey) != "" || strings.TrimSpace(a.apiKeyHash) != "" {
		return true
	}
	for _, k := range a.keys {
		if strings.TrimSpace(k.Key) != "" || strings.TrimSpace(k.KeyHash) != "" {
			return true
		}
	}
	return false
}

// Authenticate reports whether presented satisfies any configured secret.
// With no secrets configured anywhere it returns true unconditionally — an
// explicit open-registry mode, not a bypass.
func (a *Authenticator) Authenticate(presented string) bool {
	if !a.Required() {
		return true
	}

	if equalKeys(a.apiKey, presented) {
		return true
	}
	if VerifySecret(presented, a.apiKeyHash) {
		return true
	}

	for _, k := range a.keys {
		if equalKeys(k.Key, presented) {
			return true
		}
		if VerifySecret(presented, k.KeyHash) {
			return true
		}
	}

	return false
}

// equalKeys compares a configured plaintext key against the presented secret
// in constant time. Empty configured keys never match.
func equalKeys(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
