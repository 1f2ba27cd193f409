package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned for a zero-length body.
	ErrEmptyResponse = errors.New("codec: empty response")
	// ErrMalformedJSON is returned when the body is not a JSON object.
	ErrMalformedJSON = errors.New("codec: malformed json")
	// ErrMissingCorrelationID is returned when result or error is present without id.
	ErrMissingCorrelationID = errors.New("codec: response missing correlation id")
)

// RemoteError is an error the remote service reported explicitly.
type RemoteError struct {
	Message string          // Error text: the string payload, the object's message, or raw JSON
	Code    int             // JSON-RPC error code when the payload was an error object
	Data    json.RawMessage // Optional data member of an error object
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// newRemoteError stringifies an error payload.
// Strings are taken verbatim, JSON-RPC error objects contribute their members,
// anything else is kept as its JSON text.
func newRemoteError(raw json.RawMessage) *RemoteError {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &RemoteError{Message: text}
	}

	var obj struct {
		Code    int             `json:"code"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != nil {
		return &RemoteError{Message: *obj.Message, Code: obj.Code, Data: obj.Data}
	}

	return &RemoteError{Message: string(raw)}
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
}
