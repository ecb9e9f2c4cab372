// Package tokens issues and decodes signed, self-contained session tokens.
//
// Two formats are supported: HS256 JWTs (JWTCodec) and PASETO v4.public
// (PasetoCodec). Both carry the same ClaimSet and report the same failure
// kinds, so callers never depend on the wire format.
//
// A codec never consults persistent state; liveness of the session a token
// names is the session package's concern.
package tokens
