package codec

import (
	"bytes"
	"encoding/json"
	"errors"

	"bobo-rpc/message"
)

var jsonNull = []byte("null")

// JSONCodec uses Go's standard library encoding/json for the JSON-RPC 2.0 envelopes.
type JSONCodec struct{}

// Encode marshals a JSON-RPC 2.0 request carrying id.
func (c *JSONCodec) Encode(method string, params []any, id uint64) ([]byte, error) {
	return json.Marshal(message.NewRequest(method, params, id))
}

// Decode validates a response envelope in this order:
// empty body, JSON syntax, correlation id, remote error, result.
func (c *JSONCodec) Decode(body []byte) (json.RawMessage, error) {
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}

	// Members are kept raw so that presence can be told apart from a null value
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, malformed(err)
	}
	if members == nil {
		return nil, malformed(errors.New("response is not an object"))
	}

	result, hasResult := members["result"]
	errPayload, hasError := members["error"]

	if (hasResult || hasError) && !present(members["id"]) {
		return nil, ErrMissingCorrelationID
	}

	if hasError && present(errPayload) {
		return nil, newRemoteError(errPayload)
	}

	if !hasResult {
		return nil, nil
	}
	return result, nil
}

// present reports whether a member exists with a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}
