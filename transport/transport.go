// Package transport implements the client-side transports the dispatcher can send through.
//
// Every transport is asynchronous: Call returns immediately and the outcome arrives later
// through the Done passed in. Whatever happens (result, protocol error, network failure,
// timeout) Done is invoked exactly once per call.
//
//	ScriptTransport  cross-origin, padded script injected into a page, fixed timeout
//	HTTPTransport    same-origin, JSON-RPC 2.0 envelope over POST
//	FetchTransport   padded GET issued directly, for environments without same-origin limits
package transport

import (
	"context"
	"fmt"

	"bobo-rpc/message"
)

// Transport performs one call and reports its outcome to done.
type Transport interface {
	Call(ctx context.Context, call *message.Call, done message.Done)
}

// TransportError reports that no response was obtained from the remote side.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
