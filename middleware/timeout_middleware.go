package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bobo-rpc/message"
)

// ErrTimedOut is delivered when TimeOutMiddleware fires before the transport completes.
var ErrTimedOut = fmt.Errorf("request timed out: %w", context.DeadlineExceeded)

// TimeOutMiddleware is a watchdog for transports without a built-in deadline.
// Whichever of the timer and the real completion comes first is delivered; the other is
// dropped. The context handed to the transport is cancelled when the watchdog fires.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, done message.Done) {
			ctx, cancel := context.WithCancel(ctx)
			once := message.Once(func(result json.RawMessage, err error) {
				cancel()
				done(result, err)
			})

			timer := time.AfterFunc(timeout, func() { once(nil, ErrTimedOut) })

			next(ctx, call, func(result json.RawMessage, err error) {
				timer.Stop()
				once(result, err)
			})
		}
	}
}
