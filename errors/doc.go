// Package errors provides the structured error taxonomy of the skillsynth
// matching engine.
//
// # Error Codes
//
// Upstream calls (embedding, generation, vector index) fail with one of:
//
//   - UPSTREAM_UNAVAILABLE: non-success status or network failure
//   - TIMEOUT: the per-call deadline expired
//   - EMPTY_RESULT: the call succeeded but returned no vector or text
//   - MALFORMED_GENERATION_OUTPUT: a project reply could not be parsed
//   - DIMENSION_MISMATCH: a vector does not fit its namespace
//   - RATE_LIMITED / CIRCUIT_OPEN: local or upstream capacity limits
//
// NOT_FOUND exists for completeness; matching an unknown anchor returns an
// empty result rather than this error.
//
// # Usage
//
// Create an error for a failed upstream call:
//
//	err := errors.Unavailable("embed", resp.StatusCode, "embedding request failed")
//
// Decide whether to retry:
//
//	if errors.IsRetryable(err) {
//	    // back off and try again
//	}
//
// Map to a transport status:
//
//	status := errors.HTTPStatus(err)
package errors
