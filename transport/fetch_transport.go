package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bobo-rpc/codec"
	"bobo-rpc/message"
	"bobo-rpc/protocol"
)

// FetchTransport requests the same padded address as ScriptTransport but reads the
// body directly and strips the padding, without executing anything. It suits processes
// that are not bound by a same-origin policy.
//
// Unlike script injection, load failures are observable here and are reported as
// TransportError instead of surfacing as a missing payload.
type FetchTransport struct {
	client *http.Client
}

// NewFetchTransport creates a fetch transport; a nil client gets a 30s-timeout default.
func NewFetchTransport(client *http.Client) *FetchTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FetchTransport{client: client}
}

// Call GETs call.Address with a callback parameter and unwraps the padded body.
func (t *FetchTransport) Call(ctx context.Context, call *message.Call, done message.Done) {
	go t.fetch(ctx, call, message.Once(done))
}

func (t *FetchTransport) fetch(ctx context.Context, call *message.Call, done message.Done) {
	name := protocol.CallbackName(call.ID)

	src, err := protocol.WithCallback(call.Address, name)
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		done(nil, &TransportError{Cause: fmt.Errorf("unexpected status code: %d", resp.StatusCode)})
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}

	payload, err := protocol.Unpad(body, name)
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}
	if !json.Valid(payload) {
		done(nil, fmt.Errorf("%w: padded payload", codec.ErrMalformedJSON))
		return
	}
	if string(payload) == "null" {
		payload = nil
	}
	done(payload, nil)
}
