package rpc

import (
	stderrors "errors"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/transport"
)

// Application error codes, outside the range reserved by JSON-RPC.
const (
	CodeUpstreamUnavailable = -32001
	CodeEmptyResult         = -32002
	CodeMalformedOutput     = -32003
	CodeDimensionMismatch   = -32004
	CodeCanceled            = -32005
	CodeTimeout             = -32006
	CodeNotFound            = -32007
	CodeRateLimited         = -32008
	CodeCircuitOpen         = -32009
)

var rpcCodes = map[errors.ErrorCode]int{
	errors.ErrCodeUpstreamUnavailable: CodeUpstreamUnavailable,
	errors.ErrCodeEmptyResult:         CodeEmptyResult,
	errors.ErrCodeMalformedOutput:     CodeMalformedOutput,
	errors.ErrCodeDimensionMismatch:   CodeDimensionMismatch,
	errors.ErrCodeCanceled:            CodeCanceled,
	errors.ErrCodeTimeout:             CodeTimeout,
	errors.ErrCodeNotFound:            CodeNotFound,
	errors.ErrCodeRateLimit:           CodeRateLimited,
	errors.ErrCodeCircuitOpen:         CodeCircuitOpen,
	errors.ErrCodeInvalidInput:        transport.InvalidParams,
}

// ErrorData is the data member of every mapped error.
type ErrorData struct {
	Code       string            `json:"code"`
	HTTPStatus int               `json:"http_status"`
	Upstream   string            `json:"upstream,omitempty"`
	Status     int               `json:"status,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Result     interface{}       `json:"result,omitempty"`
}

// MapError converts an engine error into a JSON-RPC error. Use it as
// transport.ServeOptions.MapError.
func MapError(err error) *transport.Error {
	code := errors.Code(err)
	if code == "" {
		// Plain context errors never crossed an upstream guard.
		code = errors.Wrap(err, "").Code()
	}

	rpcCode, ok := rpcCodes[code]
	if !ok {
		rpcCode = transport.InternalError
	}

	data := &ErrorData{
		Code:       code.String(),
		HTTPStatus: errors.HTTPStatus(err),
		Status:     errors.Status(err),
		Metadata:   errors.GetMetadata(err),
	}
	var engineErr *errors.Error
	if stderrors.As(err, &engineErr) {
		data.Upstream = engineErr.Upstream()
	}
	var pe *partialError
	if stderrors.As(err, &pe) {
		data.Result = pe.result
	}

	return &transport.Error{Code: rpcCode, Message: err.Error(), Data: data}
}
