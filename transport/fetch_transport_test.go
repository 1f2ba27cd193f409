package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bobo-rpc/codec"
	"bobo-rpc/message"
	"bobo-rpc/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paddedServer(t *testing.T, status int, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(protocol.Pad(r.URL.Query().Get(protocol.CallbackParam), []byte(payload)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchTransport(t *testing.T) {
	srv := paddedServer(t, http.StatusOK, `[{"string":"foobar"}]`)
	out := newOutcome()

	NewFetchTransport(nil).Call(context.Background(), &message.Call{ID: 7, Address: srv.URL + "/json"}, out.done)

	out.wait(t)
	require.NoError(t, out.err)
	assert.JSONEq(t, `[{"string":"foobar"}]`, string(out.result))
}

func TestFetchTransportNull(t *testing.T) {
	srv := paddedServer(t, http.StatusOK, `null`)
	out := newOutcome()

	NewFetchTransport(nil).Call(context.Background(), &message.Call{ID: 8, Address: srv.URL}, out.done)

	out.wait(t)
	assert.NoError(t, out.err)
	assert.Nil(t, out.result)
}

func TestFetchTransportFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := paddedServer(t, http.StatusInternalServerError, `1`)
		out := newOutcome()
		NewFetchTransport(nil).Call(context.Background(), &message.Call{ID: 1, Address: srv.URL}, out.done)
		out.wait(t)
		var terr *TransportError
		assert.True(t, errors.As(out.err, &terr))
	})

	t.Run("wrong padding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`otherName(1);`))
		}))
		defer srv.Close()
		out := newOutcome()
		NewFetchTransport(nil).Call(context.Background(), &message.Call{ID: 2, Address: srv.URL}, out.done)
		out.wait(t)
		var terr *TransportError
		assert.True(t, errors.As(out.err, &terr))
	})

	t.Run("not json", func(t *testing.T) {
		srv := paddedServer(t, http.StatusOK, `{string: 'foobar'}`)
		out := newOutcome()
		NewFetchTransport(nil).Call(context.Background(), &message.Call{ID: 3, Address: srv.URL}, out.done)
		out.wait(t)
		assert.ErrorIs(t, out.err, codec.ErrMalformedJSON)
	})
}
