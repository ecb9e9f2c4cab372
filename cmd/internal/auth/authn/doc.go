// Package authn is the authentication service: login, refresh, logout,
// bearer-token resolution and password changes.
//
// Service owns no storage. It composes an identity.Store, a password hasher,
// a tokens.Codec and a session service, all injected by the caller.
//
// Every failure is an *Error whose Kind is one of the sentinels in this
// package. Token and credential failures always match ErrUnauthorized;
// storage outages match ErrUnavailable and never ErrUnauthorized.
package authn
