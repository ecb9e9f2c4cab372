package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "AUTH_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the smallest accepted HMAC key.
	MinHMACKeyBytes = 32

	digestHexLen = 64
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Digester turns bearer strings into storage digests.
// The zero value digests with plain SHA-256.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester. A nil or empty key selects SHA-256 mode.
func NewDigester(key []byte) Digester {
	if len(key) == 0 {
		return Digester{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Digester{key: k}
}

// DigesterFromEnv builds a Digester from AUTH_TOKEN_HMAC_KEY.
// When requireHMAC is false a missing key falls back to SHA-256; a key that is
// present but shorter than MinHMACKeyBytes is always an error.
func DigesterFromEnv(requireHMAC bool) (Digester, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewDigester(key), nil
	case err == ErrHMACKeyMissing && !requireHMAC:
		return Digester{}, nil
	default:
		return Digester{}, err
	}
}

// HMAC reports whether the digester is keyed.
func (d Digester) HMAC() bool { return len(d.key) > 0 }

// Digest returns the 64-char hex digest of s.
func (d Digester) Digest(s string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, d.key)
}

// EqualHex64 compares two expected 64-char hex strings in constant time.
// Either side having a different length is a mismatch.
func EqualHex64(a, b string) bool {
	if len(a) != digestHexLen || len(b) != digestHexLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
