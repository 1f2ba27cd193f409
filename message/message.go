// Package message defines the JSON-RPC envelopes exchanged with the remote service
// and the in-flight Call that flows from the dispatcher through middleware to a transport.
//
// Request is the "envelope" for every outgoing POST. Response is what the server side
// writes back; the client never trusts it blindly and validates it in the codec layer.
package message

import (
	"encoding/json"
	"sync/atomic"
)

// Version is the only protocol version spoken on the wire.
const Version = "2.0"

// Request carries one outgoing JSON-RPC call.
//
// Field order matters only for readability of the wire text; all four members are
// always present, including an empty params array.
type Request struct {
	Method  string `json:"method"`  // Remote operation name, e.g. "data"
	Params  []any  `json:"params"`  // Positional arguments, order is part of the remote contract
	JSONRPC string `json:"jsonrpc"` // Always "2.0"
	ID      uint64 `json:"id"`      // Correlation identifier assigned by the dispatcher
}

// NewRequest builds a request envelope, normalizing nil params to an empty array.
func NewRequest(method string, params []any, id uint64) *Request {
	if params == nil {
		params = []any{}
	}
	return &Request{
		Method:  method,
		Params:  params,
		JSONRPC: Version,
		ID:      id,
	}
}

// Error is the JSON-RPC error object written by the server side.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is a JSON-RPC response written by the server side.
//
//   - On success: Result is set (possibly the literal null), Error is nil.
//   - On failure: Error is set, Result is omitted.
//
// ID is raw so that "id": null can be echoed for requests whose id was unreadable.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Call describes a single in-flight call as it travels from the dispatcher to a transport.
type Call struct {
	ID      uint64 // Assigned by registry.Sequence at send time
	Method  string // Remote operation name (unused by padded transports)
	Params  []any  // Positional arguments (unused by padded transports)
	Address string // Service or data address the transport talks to
}

// Done receives the outcome of a call: a result (possibly nil) or an error.
type Done func(result json.RawMessage, err error)

// Once wraps done so that only the first invocation is forwarded.
// Every later invocation is dropped.
func Once(done Done) Done {
	var fired atomic.Bool
	return func(result json.RawMessage, err error) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		done(result, err)
	}
}
