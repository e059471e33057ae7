package errors

import "net/http"

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: upstream 5xx responses, network resets, call timeouts.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed generation output, dimension mismatch.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates local or upstream capacity limits.
	// Examples: rate limiting, an open circuit breaker.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for the matching engine.
const (
	// Transient errors
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE" // Non-success status or network failure
	ErrCodeTimeout             ErrorCode = "TIMEOUT"              // Upstream call exceeded its deadline

	// Permanent errors
	ErrCodeEmptyResult       ErrorCode = "EMPTY_RESULT"                // Upstream succeeded but returned nothing
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"                   // Anchor id absent from the index
	ErrCodeMalformedOutput   ErrorCode = "MALFORMED_GENERATION_OUTPUT" // Generation reply is not the expected structure
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"          // Vector length differs from the namespace dimension
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"               // Malformed request or configuration
	ErrCodeCanceled          ErrorCode = "CANCELED"                    // Caller canceled the operation

	// Resource errors
	ErrCodeRateLimit   ErrorCode = "RATE_LIMITED" // Upstream or local rate limit exceeded
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN" // Upstream breaker is open

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeUpstreamUnavailable, ErrCodeTimeout:
		return CategoryTransient

	case ErrCodeEmptyResult, ErrCodeNotFound, ErrCodeMalformedOutput,
		ErrCodeDimensionMismatch, ErrCodeInvalidInput, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeRateLimit, ErrCodeCircuitOpen:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeUpstreamUnavailable: "upstream service unavailable",
	ErrCodeTimeout:             "upstream call timed out",
	ErrCodeEmptyResult:         "upstream returned an empty result",
	ErrCodeNotFound:            "id not found",
	ErrCodeMalformedOutput:     "generation output is malformed",
	ErrCodeDimensionMismatch:   "vector dimension mismatch",
	ErrCodeInvalidInput:        "invalid input provided",
	ErrCodeCanceled:            "operation canceled",
	ErrCodeRateLimit:           "rate limit exceeded",
	ErrCodeCircuitOpen:         "circuit breaker open",
	ErrCodeInternal:            "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// HTTPStatus maps an error code to the status an HTTP front end should use.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeUpstreamUnavailable, ErrCodeEmptyResult, ErrCodeMalformedOutput:
		return http.StatusBadGateway
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeCanceled:
		return 499 // client closed request
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
