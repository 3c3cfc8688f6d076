package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNetwork             = errors.New("network error")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrInvalidDepth        = errors.New("invalid depth")
	ErrMalformed           = errors.New("malformed response")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

// ClassifyStatus maps an HTTP status from an exchange onto the error taxonomy.
func ClassifyStatus(exchange string, status int) error {
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return fmt.Errorf("%s: HTTP %d: %w", exchange, status, ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: HTTP %d: %w", exchange, status, ErrSymbolNotFound)
	case status >= 500:
		return fmt.Errorf("%s: HTTP %d: %w", exchange, status, ErrExchangeUnavailable)
	case status >= 400:
		return fmt.Errorf("%s: HTTP %d: %w", exchange, status, ErrMalformed)
	}
	return nil
}

// ClassifyTransport wraps a transport failure, including deadline expiry, as a
// network error. Cancellation is passed through untouched.
func ClassifyTransport(exchange string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %v: %w", exchange, err, ErrNetwork)
}
