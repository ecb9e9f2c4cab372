package tokens

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const (
	pasetoV4PublicHeader = "v4.public."

	claimSessionID = "sid"
	claimKind      = "kind"
)

// PasetoCodec issues PASETO v4.public tokens signed with an Ed25519 key.
type PasetoCodec struct {
	issuer string
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoCodec builds a codec from a hex-encoded Ed25519 secret key.
func NewPasetoCodec(secretKeyHex, issuer string) (*PasetoCodec, error) {
	if issuer == "" {
		return nil, ErrConfig
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &PasetoCodec{
		issuer: issuer,
		secret: secret,
		public: secret.Public(),
	}, nil
}

// PasetoPublicKeyHex derives the hex verification key that other services
// need to check tokens signed with secretKeyHex.
func PasetoPublicKeyHex(secretKeyHex string) (string, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretKeyHex)
	if err != nil {
		return "", ErrConfig
	}
	return secret.Public().ExportHex(), nil
}

func (c *PasetoCodec) Issue(cs ClaimSet) (string, error) {
	if err := cs.validate(); err != nil {
		return "", err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(cs.Subject)
	tok.SetJti(cs.ID)
	tok.SetIssuedAt(cs.IssuedAt)
	tok.SetNotBefore(cs.IssuedAt)
	tok.SetExpiration(cs.ExpiresAt)
	tok.SetString(claimSessionID, cs.SessionID)
	tok.SetString(claimKind, string(cs.Kind))

	return tok.V4Sign(c.secret, nil), nil
}

func (c *PasetoCodec) Decode(token string, now time.Time) (ClaimSet, error) {
	if !wellFormedV4Public(token) {
		return ClaimSet{}, ErrMalformed
	}

	// Expiry is judged against now below, so the library's wall-clock rule stays off.
	parser := paseto.NewParserWithoutExpiryCheck()
	parsed, err := parser.ParseV4Public(c.public, token, nil)
	if err != nil {
		return ClaimSet{}, ErrSignatureInvalid
	}

	if iss, err := parsed.GetIssuer(); err != nil || iss != c.issuer {
		return ClaimSet{}, ErrSignatureInvalid
	}

	var cs ClaimSet
	var gerr error
	get := func(f func() (string, error)) string {
		v, err := f()
		if err != nil && gerr == nil {
			gerr = err
		}
		return v
	}
	cs.Subject = get(parsed.GetSubject)
	cs.ID = get(parsed.GetJti)
	cs.SessionID = get(func() (string, error) { return parsed.GetString(claimSessionID) })
	cs.Kind = Kind(get(func() (string, error) { return parsed.GetString(claimKind) }))
	if gerr != nil {
		return ClaimSet{}, ErrMalformed
	}

	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return ClaimSet{}, ErrMalformed
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return ClaimSet{}, ErrMalformed
	}
	cs.IssuedAt = iat.UTC()
	cs.ExpiresAt = exp.UTC()

	if err := cs.validate(); err != nil {
		return ClaimSet{}, err
	}
	if cs.expiredAt(now) {
		return cs, ErrExpired
	}
	return cs, nil
}

// wellFormedV4Public checks framing only: header, canonical base64url body, room for a signature.
func wellFormedV4Public(token string) bool {
	rest, ok := strings.CutPrefix(token, pasetoV4PublicHeader)
	if !ok {
		return false
	}
	body, _, _ := strings.Cut(rest, ".")
	raw, err := base64.RawURLEncoding.Strict().DecodeString(body)
	if err != nil {
		return false
	}
	return len(raw) > ed25519.SignatureSize
}

// GeneratePasetoKeyHex returns a fresh hex-encoded Ed25519 secret key.
func GeneratePasetoKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
