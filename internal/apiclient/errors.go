package apiclient

import (
	"errors"
	"fmt"
)

// GenericFailureMessage is shown for transport level failures.
const GenericFailureMessage = "Something went wrong. Please try again."

// ErrUnauthorized is returned on HTTP 401. The stored token has been cleared
// by the time it is returned.
var ErrUnauthorized = errors.New("unauthorized: please sign in again")

// ValidationError carries the backend's HTTP 400 message verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NetworkError covers missing responses, timeouts and unexpected statuses.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("unexpected status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
