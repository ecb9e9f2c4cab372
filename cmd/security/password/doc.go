// Package password provides password hashing, verification and policy checks.
//
// Hashes use Argon2id in the PHC string format
// ($argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>).
//
// Security notes:
//   - Stored hashes are untrusted input during Verify; malformed or oversized
//     parameters make Verify return false instead of an error.
//   - Verify compares digests in constant time.
//   - Policy thresholds are configuration, loaded with FromEnv.
package password
