package gateway

import (
	"errors"
	"fmt"
)

// NetworkError is a transport failure: the task service could not be reached
// or the call timed out.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError is a failure reported by the task service itself.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: service error %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNetwork reports whether err is or wraps a *NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsService reports whether err is or wraps a *ServiceError.
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
