package app

import (
	"errors"
	"fmt"

	"github.com/appenteng/ai-assistant/cmd/security/token"
)

// NewDigester builds the refresh-token digester and enforces the HMAC policy.
// With RequireTokenHMAC set, a missing or short AUTH_TOKEN_HMAC_KEY is fatal;
// otherwise a missing key selects plain SHA-256.
func NewDigester(cfg Config) (token.Digester, error) {
	d, err := token.DigesterFromEnv(cfg.RequireTokenHMAC)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Digester{}, fmt.Errorf("security policy: AUTH_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Digester{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	default:
		return token.Digester{}, err
	}

	if cfg.RequireTokenHMAC && !d.HMAC() {
		return token.Digester{}, errors.New("security policy: AUTH_REQUIRE_TOKEN_HMAC=true but the digester is not keyed")
	}
	return d, nil
}
