package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bobo-rpc/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, call *message.Call, done message.Done) {
	done(json.RawMessage(`"ok"`), nil)
}

// 模拟一个慢 handler：200ms 后才完成
func slowHandler(ctx context.Context, call *message.Call, done message.Done) {
	go func() {
		time.Sleep(200 * time.Millisecond)
		done(json.RawMessage(`"slow"`), nil)
	}()
}

var boom = errors.New("boom")

func failingHandler(ctx context.Context, call *message.Call, done message.Done) {
	done(nil, boom)
}

// recorder collects deliveries for one call.
type recorder struct {
	mu      sync.Mutex
	results []json.RawMessage
	errs    []error
	first   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{})}
}

func (r *recorder) done(result json.RawMessage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.errs = append(r.errs, err)
	if len(r.errs) == 1 {
		close(r.first)
	}
}

func (r *recorder) wait(t *testing.T) (json.RawMessage, error) {
	t.Helper()
	select {
	case <-r.first:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never completed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[0], r.errs[0]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

var testCall = &message.Call{ID: 1, Method: "data", Address: "http://service.example/rpc"}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rec := newRecorder()
	LoggingMiddleware(logger)(echoHandler)(context.Background(), testCall, rec.done)
	result, err := rec.wait(t)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
	assert.Contains(t, buf.String(), `"method":"data"`)

	buf.Reset()
	rec = newRecorder()
	LoggingMiddleware(logger)(failingHandler)(context.Background(), testCall, rec.done)
	_, err = rec.wait(t)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "call failed")
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	rec := newRecorder()
	TimeOutMiddleware(500*time.Millisecond)(echoHandler)(context.Background(), testCall, rec.done)

	result, err := rec.wait(t)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时且只送达一次
	rec := newRecorder()
	TimeOutMiddleware(50*time.Millisecond)(slowHandler)(context.Background(), testCall, rec.done)

	_, err := rec.wait(t)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestTimeoutCancelsTransportContext(t *testing.T) {
	cancelled := make(chan struct{})
	blocking := func(ctx context.Context, call *message.Call, done message.Done) {
		go func() {
			<-ctx.Done()
			close(cancelled)
			done(nil, ctx.Err())
		}()
	}

	rec := newRecorder()
	TimeOutMiddleware(20*time.Millisecond)(blocking)(context.Background(), testCall, rec.done)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("transport context was not cancelled")
	}
	_, err := rec.wait(t)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		rec := newRecorder()
		handler(context.Background(), testCall, rec.done)
		_, err := rec.wait(t)
		require.NoError(t, err, "request %d should pass", i)
	}

	rec := newRecorder()
	handler(context.Background(), testCall, rec.done)
	_, err := rec.wait(t)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	empty := func(ctx context.Context, call *message.Call, done message.Done) { done(nil, nil) }

	for _, h := range []HandlerFunc{echoHandler, echoHandler, failingHandler, empty} {
		rec := newRecorder()
		m.Middleware()(h)(context.Background(), testCall, rec.done)
		rec.wait(t)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("data", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("data", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("data", OutcomeEmpty)))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestChain(t *testing.T) {
	var order []string
	var mu sync.Mutex
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call, done message.Done) {
				mu.Lock()
				order = append(order, name+".before")
				mu.Unlock()
				next(ctx, call, func(result json.RawMessage, err error) {
					mu.Lock()
					order = append(order, name+".done")
					mu.Unlock()
					done(result, err)
				})
			}
		}
	}

	chained := Chain(trace("A"), trace("B"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond))
	rec := newRecorder()
	chained(echoHandler)(context.Background(), testCall, rec.done)

	_, err := rec.wait(t)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A.before", "B.before", "B.done", "A.done"}, order)
}
