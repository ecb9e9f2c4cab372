package tokens

import "errors"

var (
	// ErrMalformed is returned when a token cannot be parsed at all.
	ErrMalformed = errors.New("malformed token")

	// ErrSignatureInvalid is returned when a token parses but was not signed by us.
	ErrSignatureInvalid = errors.New("invalid token signature")

	// ErrExpired is returned for an authentic token past its expiry.
	// Decode still returns the claims alongside it.
	ErrExpired = errors.New("token expired")

	// ErrConfig is returned for unusable key material or settings.
	ErrConfig = errors.New("invalid token config")
)
