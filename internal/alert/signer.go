// Package alert delivers signed usage notifications to user-registered
// HTTPS endpoints.
package alert

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Receiver side verification errors.
var (
	ErrReplayWindowExceeded = errors.New("timestamp outside replay window")
	ErrInvalidSignature     = errors.New("invalid signature")
)

// DefaultReplayWindow is how far a receiver should accept a delivery timestamp.
const DefaultReplayWindow = 5 * time.Minute

const secretPrefix = "whsec_"

// GenerateSignature is the hex HMAC-SHA256 of "{timestamp}.{body}" under
// secret. It travels in HeaderSignature next to HeaderTimestamp.
func GenerateSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(strconv.AppendInt(nil, timestamp, 10))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a delivery the way a receiver should. The
// timestamp must be within window of now in either direction.
func ValidateSignature(secret, signature string, timestamp int64, body []byte, window time.Duration, now time.Time) error {
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > window || skew < -window {
		return ErrReplayWindowExceeded
	}
	want := GenerateSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// GenerateSecret mints a prefixed 256-bit signing secret.
func GenerateSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(b[:]), nil
}
