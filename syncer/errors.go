package syncer

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a cycle or pull is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// AuthError is a 401/403 from the remote, or a bearer token that has already
// expired locally. It is never retried automatically.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return "authentication required: " + e.Message
	}
	return fmt.Sprintf("authentication failed (%d): %s", e.Status, e.Message)
}

// NetworkError is a transport failure or timeout talking to the remote.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is any other non-2xx response.
type HTTPError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d %s", e.Status, e.StatusText)
	}
	return fmt.Sprintf("remote returned %d %s: %s", e.Status, e.StatusText, e.Body)
}

// IsNetworkError reports whether err is, or wraps, a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuthError reports whether err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
