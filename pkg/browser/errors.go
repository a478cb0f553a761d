package browser

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnavailable      = errors.New("browser runtime unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrSessionExists    = errors.New("browser session already open")
	ErrElementNotFound  = errors.New("element not found")
	ErrConnectionLost   = errors.New("browser connection lost")
	ErrOperationTimeout = errors.New("operation timeout")
)

// ElementError reports a selector that did not become available within
// its wait bound.
type ElementError struct {
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *ElementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("element %q not found within %s: %v", e.Selector, e.Timeout, e.Err)
	}
	return fmt.Sprintf("element %q not found within %s", e.Selector, e.Timeout)
}

func (e *ElementError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrElementNotFound}
	}
	return []error{ErrElementNotFound, e.Err}
}

// NewElementError creates an ElementError for selector.
func NewElementError(selector string, timeout time.Duration, err error) *ElementError {
	return &ElementError{Selector: selector, Timeout: timeout, Err: err}
}

// IsConnectionError returns true if the error indicates a lost connection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrUnavailable)
}

// IsRetryableError returns true if the error might succeed on retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrOperationTimeout)
}
