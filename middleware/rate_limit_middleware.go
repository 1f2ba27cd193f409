package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"bobo-rpc/message"
)

// ErrRateLimited is delivered for calls rejected by RateLimitMiddleware.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
// Rejected calls complete immediately with ErrRateLimited; they are never queued or retried.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, done message.Done) {
			if !limiter.Allow() {
				done(nil, ErrRateLimited)
				return
			}
			next(ctx, call, done)
		}
	}
}
