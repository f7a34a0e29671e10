package keypool

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError attaches an HTTP-like status code to a provider failure.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider status %d", e.Status)
	}
	return fmt.Sprintf("provider status %d: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// WithStatus wraps err with status. A nil err stays nil.
func WithStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Status: status, Err: err}
}

// StatusOf returns the status carried by err, or 0.
func StatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

// Retriable reports whether a status is worth another attempt.
func Retriable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// IsAuthFailure reports a rejected credential.
func IsAuthFailure(err error) bool {
	status := StatusOf(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

const contextLimit = 60

// CallError is returned by Execute when no attempt succeeded.
type CallError struct {
	Provider string
	Attempts int
	Context  string
	Status   int
	Err      error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s call failed after %d attempt", e.Provider, e.Attempts)
	if e.Attempts != 1 {
		b.WriteString("s")
	}
	if e.Context != "" {
		fmt.Fprintf(&b, " for %q", e.Context)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func truncateContext(label string) string {
	runes := []rune(strings.TrimSpace(label))
	if len(runes) <= contextLimit {
		return string(runes)
	}
	return string(runes[:contextLimit]) + "..."
}
