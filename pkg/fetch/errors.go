package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warpdl/warpload/pkg/loadsched"
)

var (
	// ErrUnsupportedScheme is returned for locators whose scheme has no
	// registered transport.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrBodyTooLarge is returned when a body exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
)

// Error is a structured error from a transport or decoder.
// Use errors.As to extract and inspect it.
type Error struct {
	// Protocol identifies the transport or decoder (e.g., "http", "sftp", "json").
	Protocol string
	// Op is the operation that failed (e.g., "open", "read", "decode").
	Op string
	// Cause is the underlying error.
	Cause error
	// transient indicates whether another attempt may succeed.
	transient bool
}

// Error implements the error interface.
// Format: "protocol op: cause"
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s", e.Protocol, e.Op, e.Cause.Error())
	}
	return fmt.Sprintf("%s %s", e.Protocol, e.Op)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether another attempt may succeed. The scheduler
// skips the remaining retry budget when it returns false.
func (e *Error) IsTransient() bool {
	return e.transient
}

// NewTransientError creates an Error that may be retried.
func NewTransientError(protocol, op string, cause error) *Error {
	return &Error{Protocol: protocol, Op: op, Cause: cause, transient: true}
}

// NewPermanentError creates an Error that should not be retried.
func NewPermanentError(protocol, op string, cause error) *Error {
	return &Error{Protocol: protocol, Op: op, Cause: cause}
}

// StatusError reports an HTTP response with status >= 400.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsTransient is always true: the server may recover between attempts.
func (e *StatusError) IsTransient() bool {
	return true
}

// classify wraps a transport failure. Deadline expiry is reported as an
// attempt timeout; everything else is transient and left to the retry
// budget.
func classify(protocol, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", loadsched.ErrAttemptTimeout, err)
	}
	return NewTransientError(protocol, op, err)
}
