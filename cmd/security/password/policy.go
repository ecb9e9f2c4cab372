package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PolicyError lists every rule a candidate password broke.
// It matches ErrWeakPassword and each violated rule's sentinel with errors.Is.
type PolicyError struct {
	Violations []error
}

func (e *PolicyError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Error())
	}
	return ErrWeakPassword.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *PolicyError) Unwrap() []error {
	out := make([]error, 0, len(e.Violations)+1)
	out = append(out, ErrWeakPassword)
	return append(out, e.Violations...)
}

// Validate checks secret against the policy. It returns nil or a *PolicyError.
func (p Policy) Validate(secret string) error {
	var violations []error

	// Count characters (runes), not bytes.
	n := utf8.RuneCountInString(secret)
	if n < p.MinLength {
		violations = append(violations, ErrPasswordTooShort)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		violations = append(violations, ErrPasswordTooLong)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if p.RequireUpper && !hasUpper {
		violations = append(violations, ErrMissingUpper)
	}
	if p.RequireLower && !hasLower {
		violations = append(violations, ErrMissingLower)
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, ErrMissingDigit)
	}
	if p.RequireSymbol && !hasSymbol {
		violations = append(violations, ErrMissingSymbol)
	}

	if p.RejectVeryWeak && looksVeryWeak(secret) {
		violations = append(violations, ErrWeakPassword)
	}

	if len(violations) == 0 {
		return nil
	}
	return &PolicyError{Violations: violations}
}

// looksVeryWeak is minimal and conservative; it is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	allSame := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	onlyDigits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password1", "password123", "password1!", "p@ssw0rd", "p@ssw0rd!",
		"123456", "123456789", "qwerty", "qwerty123", "11111111", "letmein", "welcome1!":
		return true
	}

	return false
}
