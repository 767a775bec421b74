package calsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"scheduler-service/internal/model"
)

var (
	// ErrNotConfigured means the resource has no link to this provider.
	ErrNotConfigured = errors.New("provider not configured for resource")
	// ErrExternalNotFound means the provider no longer knows the artifact.
	ErrExternalNotFound = errors.New("external artifact not found")
)

// Error wraps a provider failure with what was being attempted.
type Error struct {
	Provider   model.ProviderKind
	Op         string
	StatusCode int
	transient  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *Error) Transient() bool { return e.transient }

// NewError classifies err by HTTP status (0 when the call never got a response).
// 429 and 5xx are transient; 404 and 410 become ErrExternalNotFound; network
// timeouts and deadline errors are transient.
func NewError(provider model.ProviderKind, op string, status int, err error) *Error {
	e := &Error{Provider: provider, Op: op, StatusCode: status, Err: err}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		e.Err = fmt.Errorf("%w: %v", ErrExternalNotFound, err)
	case status == http.StatusTooManyRequests || status >= 500:
		e.transient = true
	case status == 0:
		e.transient = isNetworkTransient(err)
	}
	return e
}

// IsTransient is the retry classifier for provider calls.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrExternalNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr.transient
	}
	return isNetworkTransient(err)
}

func isNetworkTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}
