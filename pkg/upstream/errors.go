package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	providertypes "carebot/pkg/provider/types"
)

// Error is a categorized upstream failure. Status is the HTTP status when
// the backend answered, zero otherwise.
type Error struct {
	Kind   providertypes.ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := string(e.Kind)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Temporary reports whether another attempt may succeed: timeouts,
// connection failures and 5xx answers.
func (e *Error) Temporary() bool {
	if e == nil {
		return false
	}

	switch e.Kind {
	case providertypes.ErrorTimeout:
		return true
	case providertypes.ErrorUpstreamUnavailable:
		return e.Status == 0 || e.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

// NewError creates a categorized upstream error.
func NewError(kind providertypes.ErrorKind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Err: err}
}

// StatusError classifies an HTTP status returned by a backend.
func StatusError(status int, err error) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return NewError(providertypes.ErrorRateLimited, status, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewError(providertypes.ErrorTimeout, status, err)
	default:
		return NewError(providertypes.ErrorUpstreamUnavailable, status, err)
	}
}

// AsError returns err as a categorized *Error, classifying plain errors by
// their cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(providertypes.ErrorTimeout, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(providertypes.ErrorTimeout, 0, err)
	}

	return NewError(providertypes.ErrorUpstreamUnavailable, 0, err)
}

// KindFromError returns the stable ErrorKind for an error.
func KindFromError(err error) providertypes.ErrorKind {
	if err == nil {
		return providertypes.ErrorNone
	}
	return AsError(err).Kind
}

// ErrNotConfigured marks a backend that has no credentials or endpoint.
var ErrNotConfigured = errors.New("upstream not configured")
