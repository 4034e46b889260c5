// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors of the token engine. Callers check them with errors.Is.
var (
	// ErrInvalidConfiguration is returned at construction time when a required field is missing.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrBusy is returned when a request is already in flight and force was not set.
	ErrBusy = errors.New("authorization request already in flight")
	// ErrMalformedResponse is reported when a required JSON field is missing from a response.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrUnauthorized is returned when a refresh is attempted without a held grant.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTimeout is reported when the device code expired before the user approved it.
	ErrTimeout = errors.New("device code expired before authorization")
	// ErrSuperseded is returned to a blocking caller whose request was replaced by a newer one.
	ErrSuperseded = errors.New("superseded by a newer authorization request")
)

// ProviderError is an OAuth error reported by the authorization server in the
// "error" field of a response body.
type ProviderError struct {
	Code        string
	Description string
	StatusCode  int
}

// Error returns the OAuth error code so callers can compare it directly
// with values such as "invalid_grant".
func (e *ProviderError) Error() string {
	return e.Code
}

// TransportError is reported when the server could not be reached or answered
// with a status the engine does not handle.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
