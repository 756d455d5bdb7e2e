// Package auth verifies bearer tokens and API keys and carries the caller
// identity through request contexts.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Keys look like tf_live_7a9f3c_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b: scheme,
// environment, a short lookup prefix and the secret, all lowercase hex.
const (
	KeyPrefixLen = 6
	KeySecretLen = 32
	KeyScheme    = "tf_"
)

const (
	EnvLive = "live"
	EnvTest = "test"
)

// ErrInvalidKeyFormat is returned for credentials that cannot be API keys.
var ErrInvalidKeyFormat = errors.New("invalid API key format")

// GeneratedKey is a freshly minted key. Plaintext is handed to the user
// once; Hash and Prefix are what gets stored.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// GenerateAPIKey creates a new API key for an environment, defaulting to live.
func GenerateAPIKey(env string) (*GeneratedKey, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	prefix, err := randomHex(KeyPrefixLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	lookup := lookupPrefix(env, prefix)
	plaintext := lookup + "_" + secret

	hash, err := HashSecret(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    lookup,
	}, nil
}

// ParsedKey is a syntactically valid key. Prefix has the same shape as
// GeneratedKey.Prefix.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// ParseAPIKey splits a plaintext key. It does no lookup.
func ParseAPIKey(key string) (*ParsedKey, error) {
	rest, ok := strings.CutPrefix(key, KeyScheme)
	if !ok {
		return nil, ErrInvalidKeyFormat
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 3 {
		return nil, ErrInvalidKeyFormat
	}
	env, prefix, secret := parts[0], parts[1], parts[2]
	if (env != EnvLive && env != EnvTest) ||
		!lowerHex(prefix, KeyPrefixLen) || !lowerHex(secret, KeySecretLen) {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{Env: env, Prefix: lookupPrefix(env, prefix), Secret: secret}, nil
}

// ValidateKeyFormat reports whether key parses.
func ValidateKeyFormat(key string) bool {
	_, err := ParseAPIKey(key)
	return err == nil
}

// LooksLikeAPIKey reports whether a bearer credential should take the API
// key path rather than the JWT path.
func LooksLikeAPIKey(credential string) bool {
	return strings.HasPrefix(credential, KeyScheme)
}

func lowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func lookupPrefix(env, prefix string) string {
	return KeyScheme + env + "_" + prefix
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
