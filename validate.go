package credvault

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Known-weak passwords rejected regardless of character-class checks.
var weakPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"letmein123":  {},
	"admin123":    {},
	"welcome123":  {},
	"iloveyou1":   {},
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-50 characters of letters, digits, or underscore", ErrValidation)
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) == 0 || len(email) > 254 {
		return fmt.Errorf("%w: email must be 1-254 characters", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: malformed email address", ErrValidation)
	}
	return nil
}

// validatePasswordPolicy enforces the registration and change-password policy:
// minimum length plus upper, lower, digit, and special character classes, and
// a rejection list of common weak passwords. Hash-level checks live in the
// password package; this is the user-facing policy gate.
func validatePasswordPolicy(pw string, minLength int) error {
	if len(pw) < minLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPasswordPolicy, minLength)
	}
	if _, weak := weakPasswords[strings.ToLower(pw)]; weak {
		return fmt.Errorf("%w: password is too common", ErrPasswordPolicy)
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper {
		return fmt.Errorf("%w: password must contain an uppercase letter", ErrPasswordPolicy)
	}
	if !lower {
		return fmt.Errorf("%w: password must contain a lowercase letter", ErrPasswordPolicy)
	}
	if !digit {
		return fmt.Errorf("%w: password must contain a digit", ErrPasswordPolicy)
	}
	if !special {
		return fmt.Errorf("%w: password must contain a special character", ErrPasswordPolicy)
	}

	return nil
}
