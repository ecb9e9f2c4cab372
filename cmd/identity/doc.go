// Package identity is the credential store: user accounts with their
// normalized identifiers, opaque password hashes and activation state.
//
// It knows nothing about tokens or sessions. Password hashing lives in
// cmd/security/password; this package only persists the resulting string.
package identity
