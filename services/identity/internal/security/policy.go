package security

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8
	specialCharacters = "!@#$%^&*(),.?\":{}|<>_-+=[]\\/;~`"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// FieldError is one entry of a structured validation failure.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", strings.Join(f.Loc, "."), f.Msg))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Add(field, msg, typ string) {
	e.Fields = append(e.Fields, FieldError{Loc: []string{"body", field}, Msg: msg, Type: typ})
}

// Err returns nil when no field failed.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func CheckPassword(field, password string) error {
	v := &ValidationError{}
	checkPassword(v, field, password)
	return v.Err()
}

func checkPassword(v *ValidationError, field, password string) {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		v.Add(field, fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength), "value_error.password.too_short")
		return
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialCharacters, r):
			special = true
		}
	}
	if !upper {
		v.Add(field, "Password must contain at least one uppercase letter", "value_error.password.uppercase")
	}
	if !lower {
		v.Add(field, "Password must contain at least one lowercase letter", "value_error.password.lowercase")
	}
	if !digit {
		v.Add(field, "Password must contain at least one digit", "value_error.password.digit")
	}
	if !special {
		v.Add(field, "Password must contain at least one special character", "value_error.password.special")
	}
}

// Registration carries the already-decrypted fields of a sign-up.
type Registration struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

func CheckRegistration(r Registration) error {
	v := &ValidationError{}
	if !usernamePattern.MatchString(r.Username) {
		v.Add("username", "Username must be 3-50 characters of letters, digits, underscore or hyphen", "value_error.username")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil || strings.ContainsAny(r.Email, " <>") {
		v.Add("email", "value is not a valid email address", "value_error.email")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(r.DisplayName)); n == 0 || n > 50 {
		v.Add("display_name", "Display name must be 1-50 characters", "value_error.display_name")
	}
	checkPassword(v, "password", r.Password)
	return v.Err()
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
