package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"bobo-rpc/message"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000 // Implementation-defined range is -32099..-32000
)

// Error is a JSON-RPC error. Service methods may return one to choose the code;
// any other error becomes a server error carrying its text.
type Error struct {
	Code    int
	Message string
	Data    any // Optional, marshalled into the error object as is
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Status is the HTTP status the error is reported with.
func (e *Error) Status() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func newError(code int, kind, format string, args ...any) *Error {
	msg := kind
	if format != "" {
		msg += ": " + fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

func ParseError(format string, args ...any) *Error {
	return newError(CodeParseError, "parse error", format, args...)
}

func InvalidRequest(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, "invalid request", format, args...)
}

func MethodNotFound(format string, args ...any) *Error {
	return newError(CodeMethodNotFound, "method not found", format, args...)
}

func InvalidParams(format string, args ...any) *Error {
	return newError(CodeInvalidParams, "invalid params", format, args...)
}

func InternalError(format string, args ...any) *Error {
	return newError(CodeInternalError, "internal error", format, args...)
}

func ServerError(format string, args ...any) *Error {
	return newError(CodeServerError, "server error", format, args...)
}

// wire converts e into the error member of a response.
func (e *Error) wire() *message.Error {
	out := &message.Error{Code: e.Code, Message: e.Message}
	if e.Data != nil {
		if data, err := json.Marshal(e.Data); err == nil {
			out.Data = data
		} else {
			out.Data, _ = json.Marshal(fmt.Sprint(e.Data))
		}
	}
	return out
}
