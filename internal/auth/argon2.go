package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidHash indicates the hash format is invalid.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the hash version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Params are the Argon2id cost settings encoded into every hash.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultParams follow the OWASP minimum for Argon2id.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}

// phc is a decoded $argon2id$v=..$m=..,t=..,p=..$salt$hash string.
type phc struct {
	params Params
	salt   []byte
	key    []byte
}

// HashSecret hashes an API key with DefaultParams in PHC string format.
func HashSecret(secret string) (string, error) {
	return HashSecretWith(DefaultParams, secret)
}

// HashSecretWith hashes secret using p.
func HashSecretWith(p Params, secret string) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return phc{params: p, salt: salt, key: key}.String(), nil
}

// VerifySecret checks a plaintext secret against a PHC encoded hash using
// the parameters stored in the hash.
func VerifySecret(secret, encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	p := h.params
	computed := argon2.IDKey([]byte(secret), h.salt, p.Time, p.Memory, p.Threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(computed, h.key) == 1, nil
}

// NeedsRehash reports whether a stored hash was made with weaker settings
// than DefaultParams. Unparseable hashes report false; verification already
// rejects them.
func NeedsRehash(encodedHash string) bool {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false
	}
	p, want := h.params, DefaultParams
	return p.Time < want.Time || p.Memory < want.Memory || p.Threads < want.Threads ||
		uint32(len(h.key)) < want.KeyLen || uint32(len(h.salt)) < want.SaltLen
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

func parsePHC(encoded string) (phc, error) {
	var h phc
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return h, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return h, ErrInvalidHash
	}
	if version != argon2.Version {
		return h, ErrIncompatibleVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.params.Memory, &h.params.Time, &h.params.Threads); err != nil {
		return h, ErrInvalidHash
	}
	if h.params.Time == 0 || h.params.Threads == 0 {
		return h, ErrInvalidHash
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, ErrInvalidHash
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return h, ErrInvalidHash
	}
	h.params.KeyLen = uint32(len(h.key))
	h.params.SaltLen = uint32(len(h.salt))
	return h, nil
}

// QuickHash returns a truncated SHA-256 of the input for cache keys.
// Not suitable for storage.
func QuickHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
