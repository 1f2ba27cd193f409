// Package codec builds outgoing JSON-RPC request envelopes and validates incoming
// response envelopes before anything is delivered to a caller.
//
// Decode is deliberately strict about correlation: a response carrying a result or an
// error but no id is rejected, because without the id the caller cannot match it to a
// pending call.
package codec

import "encoding/json"

// ContentType is sent with every encoded request.
const ContentType = "application/json; charset=utf-8"

// Codec serializes request envelopes and classifies response envelopes.
type Codec interface {
	// Encode writes method, params, jsonrpc and id. Params order is preserved.
	Encode(method string, params []any, id uint64) ([]byte, error)
	// Decode returns the result value, or one of the protocol errors in errors.go.
	Decode(body []byte) (json.RawMessage, error)
}

// Default returns the codec used by the HTTP transport.
func Default() Codec {
	return &JSONCodec{}
}
