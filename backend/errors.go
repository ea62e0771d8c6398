package backend

import (
	"fmt"

	"github.com/gangwars/joinframe"
)

// Error describes a failed backend call. It matches joinframe.ErrBackendUnavailable
// under errors.Is.
type Error struct {
	// Operation is the logical call, e.g. "claimable_assets".
	Operation string

	// Method and Path identify the HTTP request.
	Method string
	Path   string

	// StatusCode is the HTTP status, zero for transport or decoding failures.
	StatusCode int

	// Message is the response body or the underlying error text.
	Message string

	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s %s %s: status %d: %s", e.Operation, e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s %s %s: %s", e.Operation, e.Method, e.Path, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is joinframe.ErrBackendUnavailable.
func (e *Error) Is(target error) bool {
	return target == joinframe.ErrBackendUnavailable
}
