package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, the wrapper keeps its code and upstream details.
// Context deadline and cancellation errors map to TIMEOUT and CANCELED.
// Anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var engineErr *Error
	if errors.As(err, &engineErr) {
		wrapped := &Error{
			code:      engineErr.code,
			category:  engineErr.category,
			message:   message,
			cause:     err,
			metadata:  engineErr.Metadata(),
			retryable: engineErr.retryable,
			timestamp: engineErr.timestamp,
			upstream:  engineErr.upstream,
			status:    engineErr.status,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsEngineError extracts an EngineError from an error chain.
// Returns nil if none is found.
func AsEngineError(err error) EngineError {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return nil
}

// Is checks if the outermost *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.code == code
	}
	return false
}

// IsCategory checks if the outermost *Error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside the taxonomy are not retryable.
func IsRetryable(err error) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Retryable()
	}
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.code
	}
	return ""
}

// Status extracts the upstream HTTP status from an error, or 0.
func Status(err error) int {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.status
	}
	return 0
}

// GetMetadata extracts metadata from an error.
func GetMetadata(err error) map[string]string {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Metadata()
	}
	return nil
}

// HTTPStatus returns the status an HTTP front end should answer with.
// Errors outside the taxonomy map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	code := Code(err)
	if code == "" {
		if errors.Is(err, context.Canceled) {
			return ErrCodeCanceled.HTTPStatus()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCodeTimeout.HTTPStatus()
		}
	}
	return code.HTTPStatus()
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
