package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/auth"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	maxEmailLen    = 254
	minPasswordLen = 6

	// DefaultRedirect is where a verified user lands when no safe redirect
	// was requested.
	DefaultRedirect = "/dashboard"
)

// redirectPrefixes are the SPA sections a verification link may land on.
var redirectPrefixes = []string{"/dashboard", "/courses", "/store", "/checkout", "/account"}

// normalizeUsername trims and validates a username.
func normalizeUsername(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(u)
	if n < minUsernameLen || n > maxUsernameLen {
		return "", apperror.ValidationFailed("username", "username must be 3-50 characters")
	}
	for _, r := range u {
		if !isUsernameRune(r) {
			return "", apperror.ValidationFailed("username", "username may contain only letters, digits, '_', '-' and '.'")
		}
	}
	return u, nil
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	}
	return false
}

// normalizeEmail trims and validates an email address. Only a bare address is
// accepted; "Name <addr>" forms are rejected. Case is preserved.
func normalizeEmail(raw string) (string, error) {
	e := strings.TrimSpace(raw)
	if e == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(e) > maxEmailLen {
		return "", apperror.ValidationFailed("email", "email is too long")
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return e, nil
}

// checkPassword enforces the length rules for a new password. field names
// the request field so the client can highlight it.
func checkPassword(field, pw string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return apperror.ValidationFailed(field, "password must be at least 6 characters")
	}
	if len(pw) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field, "password must be 72 bytes or fewer")
	}
	return nil
}

// SafeRedirect reports whether raw is an allowed post-verification target and
// returns it cleaned. Allowed targets are absolute paths under one of the
// redirectPrefixes, matched on a segment boundary, with no scheme, host or
// backslash, so the verification link can never be turned into an open
// redirect.
func SafeRedirect(raw string) (string, bool) {
	p := strings.TrimSpace(raw)
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", false
	}
	if strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n\t") || strings.Contains(p, "://") {
		return "", false
	}
	if strings.Contains(p, "/../") || strings.HasSuffix(p, "/..") {
		return "", false
	}

	for _, prefix := range redirectPrefixes {
		if p == prefix {
			return p, true
		}
		if strings.HasPrefix(p, prefix) {
			next := p[len(prefix)]
			if next == '/' || next == '?' || next == '#' {
				return p, true
			}
		}
	}
	return "", false
}

// RedirectOrDefault returns raw if it is a safe redirect, DefaultRedirect
// otherwise.
func RedirectOrDefault(raw string) string {
	if p, ok := SafeRedirect(raw); ok {
		return p
	}
	return DefaultRedirect
}
