package service

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen    = 8
	maxPasswordLen    = 128
	maxEmailLen       = 254
	maxDisplayNameLen = 64
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,29}$`)

// normalizeEmail lowercases and validates a bare address. Display-name
// forms such as "Ada <ada@example.com>" are rejected.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", validationError("email", "email is required")
	}
	if len(email) > maxEmailLen {
		return "", validationError("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", validationError("email", "email is not a valid address")
	}
	return email, nil
}

// validateUsername allows an empty username; accounts may be email-only.
func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", nil
	}
	if !usernamePattern.MatchString(username) {
		return "", validationError("username",
			"username must be 3-30 characters, start with a letter and contain only letters, digits and underscores")
	}
	return username, nil
}

func validatePassword(field, password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen {
		return validationError(field, "password must be at least 8 characters")
	}
	if n > maxPasswordLen {
		return validationError(field, "password must be at most 128 characters")
	}
	return nil
}

func validateDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", validationError("display_name", "display name must be at most 64 characters")
	}
	return name, nil
}
