package identity

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 50
	EmailMaxLen    = 254
	FullNameMaxLen = 200
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	emailRe    = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LooksLikeEmail decides how a login identifier is resolved.
func LooksLikeEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// ValidateUsername checks length and alphabet (letters, digits, '_' and '-').
func ValidateUsername(s string) error {
	const op = "identity.ValidateUsername"

	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n < UsernameMinLen || n > UsernameMaxLen {
		return invalid(op, "username must be 3-50 characters")
	}
	if !usernameRe.MatchString(s) {
		return invalid(op, "username may contain only letters, digits, '_' and '-'")
	}
	return nil
}

// ValidateEmail is a syntactic check only; deliverability is not verified.
func ValidateEmail(s string) error {
	const op = "identity.ValidateEmail"

	s = strings.TrimSpace(s)
	if s == "" || len(s) > EmailMaxLen || !emailRe.MatchString(s) {
		return invalid(op, "invalid email address")
	}
	return nil
}

// ValidateFullName accepts nil or blank (no name) and bounds the length.
func ValidateFullName(s *string) error {
	p := trimPtr(s)
	if p != nil && utf8.RuneCountInString(*p) > FullNameMaxLen {
		return invalid("identity.ValidateFullName", "full name must be at most 200 characters")
	}
	return nil
}
