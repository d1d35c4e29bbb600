package goAccount

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,20}$`)
	upperRegex    = regexp.MustCompile(`[A-Z]`)
	lowerRegex    = regexp.MustCompile(`[a-z]`)
	digitRegex    = regexp.MustCompile(`[0-9]`)
	specialRegex  = regexp.MustCompile(`[#?!@$%^&*_\- ]`)
)

const maxEmailLength = 254

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func checkUsername(fields map[string]string, username string) {
	if !usernameRegex.MatchString(username) {
		fields["username"] = "must be 3-20 characters of letters, digits, '.', '_' or '-'"
	}
}

// checkEmail accepts a bare address only; display names are rejected.
func checkEmail(fields map[string]string, email string) {
	if email == "" || len(email) > maxEmailLength {
		fields["email"] = "must be a valid email address"
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		fields["email"] = "must be a valid email address"
	}
}

func (e *Engine) checkPassword(fields map[string]string, password string) {
	n := utf8.RuneCountInString(password)
	switch {
	case n < e.config.Policy.PasswordMinLength || n > e.config.Policy.PasswordMaxLength:
		fields["password"] = "length out of range"
	case len(password) > e.hasher.MaxSecretBytes():
		// Multi-byte characters can pass the rune count and still overflow
		// the hasher's input bound.
		fields["password"] = "too long when encoded"
	case !upperRegex.MatchString(password),
		!lowerRegex.MatchString(password),
		!digitRegex.MatchString(password),
		!specialRegex.MatchString(password):
		fields["password"] = "must contain an uppercase letter, a lowercase letter, a digit and one of #?!@$%^&*_- or space"
	}
}

func (e *Engine) validateSignup(req SignupRequest) (SignupRequest, error) {
	req.Username = normalizeUsername(req.Username)
	req.Email = normalizeEmail(req.Email)

	fields := map[string]string{}
	checkUsername(fields, req.Username)
	checkEmail(fields, req.Email)
	e.checkPassword(fields, req.Password)
	if len(fields) > 0 {
		return req, validationError(fields)
	}
	return req, nil
}
