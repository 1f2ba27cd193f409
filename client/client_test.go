package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bobo-rpc/codec"
	"bobo-rpc/message"
	"bobo-rpc/middleware"
	"bobo-rpc/transport"
)

// recordingTransport keeps every call so the test decides how each one completes.
type recordingTransport struct {
	mu    sync.Mutex
	calls []*message.Call
	dones []message.Done
}

func (r *recordingTransport) Call(_ context.Context, call *message.Call, done message.Done) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.dones = append(r.dones, done)
}

// counter counts handler invocations per call.
type counter struct {
	mu       sync.Mutex
	success  int
	failure  int
	value    json.RawMessage
	err      error
	finished chan struct{}
}

func newCounter() *counter {
	return &counter{finished: make(chan struct{}, 2)}
}

func (c *counter) OnSuccess(v json.RawMessage) {
	c.mu.Lock()
	c.success++
	c.value = v
	c.mu.Unlock()
	c.finished <- struct{}{}
}

func (c *counter) OnFailure(err error) {
	c.mu.Lock()
	c.failure++
	c.err = err
	c.mu.Unlock()
	c.finished <- struct{}{}
}

func (c *counter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.success + c.failure
}

func TestSendAssignsSequentialIDs(t *testing.T) {
	tr := &recordingTransport{}
	d := New("http://service.example/rpc", tr)

	const n = 25
	for i := 0; i < n; i++ {
		id := d.Send("data", []any{"foobar"}, newCounter())
		assert.Equal(t, uint64(i), id)
	}

	require.Len(t, tr.calls, n)
	for i, call := range tr.calls {
		assert.Equal(t, uint64(i), call.ID)
		assert.Equal(t, "data", call.Method)
		assert.Equal(t, []any{"foobar"}, call.Params)
		assert.Equal(t, "http://service.example/rpc", call.Address)
	}
}

func TestSendDeliversExactlyOnce(t *testing.T) {
	tr := &recordingTransport{}
	d := New("http://service.example/rpc", tr)

	ok, failed := newCounter(), newCounter()
	d.Send("data", nil, ok)
	d.Send("data", nil, failed)

	// 传输层重复回调也只能送达一次
	tr.dones[0](json.RawMessage(`"ok"`), nil)
	tr.dones[0](nil, errors.New("duplicate"))
	tr.dones[1](nil, codec.ErrEmptyResponse)
	tr.dones[1](json.RawMessage(`1`), nil)

	assert.Equal(t, 1, ok.success)
	assert.Equal(t, 0, ok.failure)
	assert.JSONEq(t, `"ok"`, string(ok.value))

	assert.Equal(t, 0, failed.success)
	assert.Equal(t, 1, failed.failure)
	assert.ErrorIs(t, failed.err, codec.ErrEmptyResponse)
}

func TestCompletionsMayArriveOutOfOrder(t *testing.T) {
	tr := &recordingTransport{}
	d := New("http://service.example/rpc", tr)

	first, second := newCounter(), newCounter()
	d.Send("data", []any{"a"}, first)
	d.Send("data", []any{"b"}, second)

	tr.dones[1](json.RawMessage(`"b"`), nil)
	assert.Equal(t, 0, first.total())
	assert.Equal(t, 1, second.total())

	tr.dones[0](json.RawMessage(`"a"`), nil)
	assert.JSONEq(t, `"a"`, string(first.value))
}

func TestMiddlewareWrapsTransport(t *testing.T) {
	tr := &recordingTransport{}
	d := New("http://service.example/rpc", tr, WithMiddleware(middleware.RateLimitMiddleware(0.001, 1)))

	passed, limited := newCounter(), newCounter()
	d.Send("data", nil, passed)
	d.Send("data", nil, limited)

	assert.Len(t, tr.calls, 1)
	assert.ErrorIs(t, limited.err, middleware.ErrRateLimited)
	assert.Equal(t, 0, passed.total())
}

func TestCallBlocksUntilDone(t *testing.T) {
	tr := &recordingTransport{}
	d := New("http://service.example/rpc", tr)

	go func() {
		for {
			tr.mu.Lock()
			if len(tr.dones) > 0 {
				done := tr.dones[0]
				tr.mu.Unlock()
				done(json.RawMessage(`42`), nil)
				return
			}
			tr.mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}
	}()

	v, err := d.Call(context.Background(), "answer", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(v))
}

func TestCallStopsWaitingOnContext(t *testing.T) {
	d := New("http://service.example/rpc", &recordingTransport{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Call(ctx, "never", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req message.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": req.Params, "id": req.ID})
	}))
	defer srv.Close()

	d := New(srv.URL, transport.NewHTTPTransport())

	v, err := d.Call(context.Background(), "echo", []any{"x", 1.5})
	require.NoError(t, err)
	assert.JSONEq(t, `["x",1.5]`, string(v))

	v, err = d.Call(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(v))
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	display := WriterDisplay{W: &buf}

	var shown json.RawMessage
	h := Report(display, func(v json.RawMessage) { shown = v })

	h.OnSuccess(nil)
	h.OnSuccess(json.RawMessage(`null`))
	h.OnSuccess(json.RawMessage(`{"string":"foobar"}`))
	h.OnFailure(errors.New("remote error: bad method"))

	assert.Equal(t, NoDataMessage+"\n"+NoDataMessage+"\nremote error: bad method\n", buf.String())
	assert.JSONEq(t, `{"string":"foobar"}`, string(shown))
}
