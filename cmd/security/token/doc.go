// Package token provides the digests used to store bearer credentials server-side.
//
// Refresh and access strings are never persisted. Stores keep a 64-char hex digest:
// HMAC-SHA256(token, key) when a key is configured, SHA-256(token) otherwise.
// Digests are compared in constant time.
package token
