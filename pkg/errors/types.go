package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Browser and application errors
	ErrCodeBrowserUnavailable ErrorCode = "BROWSER_UNAVAILABLE"
	ErrCodeElementNotFound    ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeGridResolve        ErrorCode = "GRID_RESOLVE"
	ErrCodeLoginFailed        ErrorCode = "LOGIN_FAILED"
	ErrCodeNoLicense          ErrorCode = "NO_LICENSE"
	ErrCodeLogoutFailed       ErrorCode = "LOGOUT_FAILED"

	// Storage errors
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageCorrupt ErrorCode = "STORAGE_CORRUPT"

	// Scheduler and worker errors
	ErrCodeStepFailed     ErrorCode = "STEP_FAILED"
	ErrCodeWorkerFault    ErrorCode = "WORKER_FAULT"
	ErrCodeWorkerExited   ErrorCode = "WORKER_EXITED"
	ErrCodeBarrierTimeout ErrorCode = "BARRIER_TIMEOUT"
	ErrCodePoolClosed     ErrorCode = "POOL_CLOSED"

	// Session errors
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"

	// Generic errors
	ErrCodeInternal       ErrorCode = "INTERNAL"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// retryableCodes lists failures that may clear on their own: a browser
// endpoint that is still starting, or a database that is briefly locked.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeBrowserUnavailable: true,
	ErrCodeElementNotFound:    true,
	ErrCodeStorageRead:        true,
	ErrCodeStorageWrite:       true,
}

// Error is the structured error carried across package boundaries. The code
// decides how callers react (HTTP status, exit code, retry); the context
// names the entities involved.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithContext adds a key-value pair to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error renders "[CODE] message {k: v, ...}: underlying" with context keys
// in sorted order.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error, or any error it wraps, has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// GetCode extracts the outermost error code. Plain errors are INTERNAL.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		return ErrCodeInternal
	}
	return appErr.Code
}

// IsRetryable reports whether err carries a code that may succeed on retry.
func IsRetryable(err error) bool {
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		return false
	}
	return retryableCodes[appErr.Code]
}
