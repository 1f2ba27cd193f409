// Package client is the dispatcher facade application code talks to.
//
// A Dispatcher binds one service address at construction, assigns each call an id from
// its correlation sequence, runs it through the middleware chain into the configured
// transport, and hands the outcome to exactly one of OnSuccess or OnFailure.
//
//	Send ─► Sequence.Next ─► middleware ─► Transport.Call ···(later)··· done ─► handler
package client

import (
	"context"
	"encoding/json"
	"log/slog"

	"bobo-rpc/message"
	"bobo-rpc/middleware"
	"bobo-rpc/registry"
	"bobo-rpc/transport"
)

// CompletionHandler receives the outcome of one call: a value or a failure, never both.
// A nil value passed to OnSuccess means no data was received.
type CompletionHandler interface {
	OnSuccess(value json.RawMessage)
	OnFailure(err error)
}

// HandlerFuncs adapts two functions to CompletionHandler. Either may be nil.
type HandlerFuncs struct {
	Success func(value json.RawMessage)
	Failure func(err error)
}

func (h HandlerFuncs) OnSuccess(value json.RawMessage) {
	if h.Success != nil {
		h.Success(value)
	}
}

func (h HandlerFuncs) OnFailure(err error) {
	if h.Failure != nil {
		h.Failure(err)
	}
}

// Dispatcher is the single entry point for remote calls.
type Dispatcher struct {
	address     string                  // Service base address, bound at startup
	ids         *registry.Sequence      // Correlation ids, unique per dispatcher
	transport   transport.Transport     // Script, HTTP or fetch transport
	middlewares []middleware.Middleware // Applied in the order they were added
	handler     middleware.HandlerFunc  // middleware(middleware(...(transport.Call)))
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMiddleware appends middlewares to the chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.middlewares = append(d.middlewares, mws...) }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSequence shares an id sequence, e.g. between dispatchers injecting into one page.
func WithSequence(seq *registry.Sequence) Option {
	return func(d *Dispatcher) { d.ids = seq }
}

// New creates a dispatcher sending every call to address through t.
func New(address string, t transport.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		address:   address,
		ids:       &registry.Sequence{},
		transport: t,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	// Build the chain once, not per call
	d.handler = middleware.Chain(d.middlewares...)(d.transport.Call)
	return d
}

// Address returns the bound service address.
func (d *Dispatcher) Address() string {
	return d.address
}

// Send issues a call and returns its id immediately. The handler is invoked exactly once,
// possibly before Send returns and possibly on another goroutine.
func (d *Dispatcher) Send(method string, params []any, h CompletionHandler) uint64 {
	call := &message.Call{
		ID:      d.ids.Next(),
		Method:  method,
		Params:  params,
		Address: d.address,
	}

	d.logger.Debug("dispatching call", "method", method, "id", call.ID)

	d.handler(context.Background(), call, message.Once(func(result json.RawMessage, err error) {
		if err != nil {
			h.OnFailure(err)
			return
		}
		h.OnSuccess(result)
	}))
	return call.ID
}

// Call is a blocking form of Send. It stops waiting when ctx is done, but the call
// itself is not cancelled and its late outcome is dropped.
func (d *Dispatcher) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	type outcome struct {
		value json.RawMessage
		err   error
	}
	ch := make(chan outcome, 1)

	d.Send(method, params, HandlerFuncs{
		Success: func(v json.RawMessage) { ch <- outcome{value: v} },
		Failure: func(err error) { ch <- outcome{err: err} },
	})

	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
