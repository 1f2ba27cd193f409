package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"bobo-rpc/message"
)

// LoggingMiddleware logs every completed call with its duration and error, if any.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, done message.Done) {
			start := time.Now()
			next(ctx, call, func(result json.RawMessage, err error) {
				attrs := []any{
					"method", call.Method,
					"id", call.ID,
					"duration", time.Since(start),
				}
				if err != nil {
					logger.LogAttrs(ctx, slog.LevelWarn, "call failed", slog.Any("err", err), slog.Group("call", attrs...))
				} else {
					logger.LogAttrs(ctx, slog.LevelDebug, "call completed", slog.Bool("empty", result == nil), slog.Group("call", attrs...))
				}
				done(result, err)
			})
		}
	}
}
