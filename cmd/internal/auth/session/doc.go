// Package session is the server-side authority on which sessions are live.
//
// A session is created at login and carries one access token and one refresh
// token, both signed by a tokens.Codec and sharing the session id. Only
// digests of the token strings are persisted (HMAC-SHA256 when
// AUTH_TOKEN_HMAC_KEY is set, SHA-256 otherwise).
//
// Rotate swaps the refresh digest with a compare-and-swap, so a refresh
// token can be exchanged at most once. Backends: Postgres, Redis (Lua
// script) and in-memory.
package session
