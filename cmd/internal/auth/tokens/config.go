package tokens

import (
	"fmt"
	"os"
	"strings"
)

// Format names a wire format.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPaseto Format = "paseto"
)

// DefaultIssuer is the iss claim when AUTH_ISSUER is unset.
const DefaultIssuer = "ai-assistant"

// Config selects and keys a Codec.
type Config struct {
	Format Format
	Issuer string

	// SigningKey keys HS256 JWTs.
	SigningKey []byte

	// PasetoSecretKeyHex is the Ed25519 secret key for v4.public tokens.
	PasetoSecretKeyHex string
}

// LoadConfigFromEnv reads:
//   - AUTH_TOKEN_FORMAT (jwt|paseto, default jwt)
//   - AUTH_ISSUER (default "ai-assistant")
//   - AUTH_SIGNING_KEY (required for jwt, at least 32 bytes)
//   - AUTH_PASETO_V4_SECRET_KEY_HEX (required for paseto)
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Format: FormatJWT,
		Issuer: DefaultIssuer,
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_TOKEN_FORMAT"))); v != "" {
		cfg.Format = Format(v)
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	switch cfg.Format {
	case FormatJWT:
		key := strings.TrimSpace(os.Getenv("AUTH_SIGNING_KEY"))
		if len(key) < MinSigningKeyBytes {
			return Config{}, fmt.Errorf("%w: AUTH_SIGNING_KEY must be at least %d bytes", ErrConfig, MinSigningKeyBytes)
		}
		cfg.SigningKey = []byte(key)
	case FormatPaseto:
		cfg.PasetoSecretKeyHex = strings.TrimSpace(os.Getenv("AUTH_PASETO_V4_SECRET_KEY_HEX"))
		if cfg.PasetoSecretKeyHex == "" {
			return Config{}, fmt.Errorf("%w: AUTH_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown AUTH_TOKEN_FORMAT %q", ErrConfig, cfg.Format)
	}

	return cfg, nil
}

// NewFromConfig builds the codec cfg selects.
func NewFromConfig(cfg Config) (Codec, error) {
	switch cfg.Format {
	case FormatJWT:
		c, err := NewJWTCodec(cfg.SigningKey, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		return c, nil
	case FormatPaseto:
		c, err := NewPasetoCodec(cfg.PasetoSecretKeyHex, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrConfig, cfg.Format)
	}
}
