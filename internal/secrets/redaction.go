// Package secrets scrubs credentials from strings before they reach logs or
// command output.
package secrets

import (
	"errors"
	"regexp"
)

const replacement = "[REDACTED]"

// Redactor replaces credential-shaped substrings
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for the credentials this service handles:
// Telegram bot tokens in API URLs, and passwords in postgres and redis URLs.
func NewRedactor() *Redactor {
	return &Redactor{patterns: []*regexp.Regexp{
		regexp.MustCompile(`(/bot)\d+:[A-Za-z0-9_-]+`),
		regexp.MustCompile(`((?:postgres|postgresql|redis|rediss)://[^:/@\s]*:)[^@\s]+(@)`),
		regexp.MustCompile(`(?i)(\bpassword=)[^\s&]+()`),
	}}
}

var defaultRedactor = NewRedactor()

// Redact returns input with every credential replaced
func (r *Redactor) Redact(input string) string {
	out := input
	for i, p := range r.patterns {
		switch i {
		case 0:
			out = p.ReplaceAllString(out, "${1}"+replacement)
		default:
			out = p.ReplaceAllString(out, "${1}"+replacement+"${2}")
		}
	}
	return out
}

// Redact scrubs input with the default redactor
func Redact(input string) string {
	return defaultRedactor.Redact(input)
}

// redactedError keeps the wrapped chain intact for errors.Is
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// RedactError returns err with a scrubbed message, or nil
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := Redact(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

// IsRedacted reports whether err carries a scrubbed message
func IsRedacted(err error) bool {
	var re *redactedError
	return errors.As(err, &re)
}
