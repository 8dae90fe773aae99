// Package auth provides authentication primitives for the registry: PBKDF2
// secret hashing/verification and the API-key gate consulted on every package
// push. Operators may configure keys as plaintext or as PBKDF2 hash strings so
// config files never have to carry a usable secret.
// See internal/middleware/auth.go for the request-time logic that uses these
// primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// secretHashScheme is the leading field of every hash string this
	// package produces.
	secretHashScheme = "PBKDF2"

	// DefaultHashIterations is the PBKDF2 iteration count used when the
	// caller does not pick one.
	DefaultHashIterations = 100000

	// MinHashIterations is the lowest iteration count accepted for both
	// hashing and verification. Hash strings below it fail verification.
	MinHashIterations = 10000

	secretSaltSize = 16
	secretKeySize  = 32
)

// HashSecret derives a salted PBKDF2-HMAC-SHA256 hash of secret and encodes it
// as "PBKDF2$<iterations>$<base64 salt>$<base64 key>". The secret must be
// non-blank and iterations must be at least MinHashIterations.
func HashSecret(secret string, iterations int) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	if iterations < MinHashIterations {
		return "", fmt.Errorf("iterations must be >= %d, got %d", MinHashIterations, iterations)
	}

	salt := make([]byte, secretSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), salt, iterations, secretKeySize, sha256.New)

	return fmt.Sprintf("%s$%d$%s$%s",
		secretHashScheme,
		iterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret reports whether secret matches a hash string produced by
// HashSecret. It never returns an error: blank inputs, malformed hash strings,
// unknown schemes, bad iteration counts, and undecodable base64 all verify as
// false. The hash string is partly attacker-influenced input space, so parsing
// must fail closed.
func VerifySecret(secret, hashValue string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(hashValue) == "" {
		return false
	}

	parts := strings.Split(hashValue, "$")
	if len(parts) != 4 {
		return false
	}
	if !strings.EqualFold(parts[0], secretHashScheme) {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < MinHashIterations {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := pbkdf2.Key([]byte(secret), salt, iterations, len(expected), sha256.New)

	return subtle.ConstantTimeCompare(actual, expected) == 1
}
