package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bobo-rpc/protocol"
)

func get(t *testing.T, h http.Handler, target string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestPaddedHandler(t *testing.T) {
	h := PaddedHandler(DataSourceFunc(func(r *http.Request) (any, error) {
		if r.URL.Query().Get("key") == "missing" {
			return nil, nil
		}
		return map[string]string{"string": "foobar"}, nil
	}), nil)

	resp, body := get(t, h, "/json?callback=callback0")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.ContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, `callback0({"string":"foobar"});`, body)

	payload, err := protocol.Unpad([]byte(body), "callback0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"string":"foobar"}`, string(payload))

	resp, body = get(t, h, "/json?callback=callback1&key=missing")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `callback1(null);`, body)

	resp, body = get(t, h, "/json")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"string":"foobar"}`, body)
}

func TestPaddedHandlerRejects(t *testing.T) {
	h := PaddedHandler(DataSourceFunc(func(r *http.Request) (any, error) {
		return nil, errors.New("store offline")
	}), nil)

	resp, _ := get(t, h, "/json?callback=alert(1)//")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := get(t, h, "/json?callback=ok")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "store offline")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/json", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
