package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSigningKeyBytes is the shortest HS256 key JWTCodec accepts.
const MinSigningKeyBytes = 32

type jwtClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Kind      Kind   `json:"kind"`
}

// JWTCodec issues HS256 JWTs.
type JWTCodec struct {
	key    []byte
	issuer string
}

// NewJWTCodec returns a codec keyed by key. The key is copied.
func NewJWTCodec(key []byte, issuer string) (*JWTCodec, error) {
	if len(key) < MinSigningKeyBytes || issuer == "" {
		return nil, ErrConfig
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &JWTCodec{key: k, issuer: issuer}, nil
}

func (c *JWTCodec) Issue(cs ClaimSet) (string, error) {
	if err := cs.validate(); err != nil {
		return "", err
	}

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   cs.Subject,
			IssuedAt:  jwt.NewNumericDate(cs.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cs.ExpiresAt),
			ID:        cs.ID,
		},
		SessionID: cs.SessionID,
		Kind:      cs.Kind,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

func (c *JWTCodec) Decode(token string, now time.Time) (ClaimSet, error) {
	var claims jwtClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		// Non-zero trailing bits in a segment would decode to the same bytes.
		jwt.WithStrictDecoding(),
	)

	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ClaimSet{}, ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ClaimSet{}, ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		// The signature was checked before claims validation ran.
		cs, cerr := claims.claimSet()
		if cerr != nil {
			return ClaimSet{}, cerr
		}
		return cs, ErrExpired
	default:
		return ClaimSet{}, ErrMalformed
	}

	return claims.claimSet()
}

func (c jwtClaims) claimSet() (ClaimSet, error) {
	cs := ClaimSet{
		Subject:   c.Subject,
		SessionID: c.SessionID,
		Kind:      c.Kind,
		ID:        c.RegisteredClaims.ID,
	}
	if c.IssuedAt != nil {
		cs.IssuedAt = c.IssuedAt.UTC()
	}
	if c.ExpiresAt != nil {
		cs.ExpiresAt = c.ExpiresAt.UTC()
	}
	if err := cs.validate(); err != nil {
		return ClaimSet{}, err
	}
	return cs, nil
}
