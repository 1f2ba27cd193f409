// Package middleware wraps every outgoing call in an onion of cross-cutting concerns.
//
//	Chain(A, B, C)(send) → A(B(C(send)))
//	Execution order: A.before → B.before → C.before → transport → (later) C.done → B.done → A.done
//
// Calls are asynchronous, so a middleware observes the outcome by wrapping done rather
// than by waiting for a return value.
package middleware

import (
	"context"

	"bobo-rpc/message"
)

// HandlerFunc sends one call and reports its outcome to done, exactly once.
type HandlerFunc func(ctx context.Context, call *message.Call, done message.Done)

// Middleware decorates a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
