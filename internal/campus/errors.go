package campus

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when any portal sub-request answers HTTP 401.
	// It marks the credential as rejected; retrying cannot succeed without
	// the user re-binding, so callers must not consume retry budget on it.
	ErrUnauthorized = errors.New("campus: unauthorized")
)

// Redirect hop failure reasons.
const (
	ReasonBadStatus       = "bad-status"
	ReasonMissingCookie   = "missing-cookie"
	ReasonMissingLocation = "missing-location"
	ReasonWrongTarget     = "wrong-target"
)

// AuthError reports a login handshake that completed at the HTTP level but
// produced no usable token.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("campus: auth failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("campus: auth failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RedirectError reports a hop of the variant-B redirect chain that failed its
// post-condition. Hop numbering starts at 1 so reports stay attributable to a
// single redirect target.
type RedirectError struct {
	Hop    int
	Reason string
	Status int
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("campus: redirect hop %d failed: %s (status %d)", e.Hop, e.Reason, e.Status)
}

// APIError reports an application-level status code embedded in a JSON body
// that signals failure despite a successful HTTP exchange.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("campus: %s returned code %d: %s", e.Endpoint, e.Code, e.Message)
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("campus: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retriable reports whether a failed attempt may succeed if repeated.
// Everything is retriable except a credential rejection.
func Retriable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnauthorized)
}

// ErrorKind maps the error taxonomy to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnauthorized) {
		return "unauthorized"
	}
	var (
		authErr     *AuthError
		redirectErr *RedirectError
		apiErr      *APIError
		netErr      *NetworkError
	)
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &redirectErr):
		return "redirect"
	case errors.As(err, &apiErr):
		return "api"
	case errors.As(err, &netErr):
		return "network"
	}
	return "unexpected"
}
