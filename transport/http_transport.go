package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bobo-rpc/codec"
	"bobo-rpc/message"
)

const maxResponseSize = 10 << 20 // 10 MiB

// HTTPTransport performs same-origin JSON-RPC 2.0 calls over POST.
//
// The response body is decoded whatever the HTTP status: a JSON-RPC server reports
// method-not-found and friends with 4xx/5xx statuses and an error envelope.
type HTTPTransport struct {
	client *http.Client
	codec  codec.Codec
	logger *slog.Logger
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithCodec replaces the envelope codec.
func WithCodec(c codec.Codec) HTTPOption {
	return func(t *HTTPTransport) { t.codec = c }
}

// WithHTTPLogger sets the logger used for recovered faults.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.logger = l }
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{Timeout: 30 * time.Second},
		codec:  codec.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Call POSTs the envelope in the background and reports the decoded outcome to done.
func (t *HTTPTransport) Call(ctx context.Context, call *message.Call, done message.Done) {
	go t.roundTrip(ctx, call, message.Once(done))
}

func (t *HTTPTransport) roundTrip(ctx context.Context, call *message.Call, done message.Done) {
	// Any fault past this point still ends in exactly one completion
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("http transport: recovered fault", "method", call.Method, "id", call.ID, "panic", r)
			done(nil, fmt.Errorf("http transport: fault handling response: %v", r))
		}
	}()

	body, err := t.codec.Encode(call.Method, call.Params, call.ID)
	if err != nil {
		done(nil, fmt.Errorf("http transport: encode request: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.Address, bytes.NewReader(body))
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}
	req.Header.Set("Content-Type", codec.ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}

	done(t.codec.Decode(raw))
}
