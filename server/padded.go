package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"bobo-rpc/protocol"
)

// DataSource produces the payload served by the padded data endpoint.
// A nil value is served as the literal null.
type DataSource interface {
	Data(r *http.Request) (any, error)
}

type DataSourceFunc func(r *http.Request) (any, error)

func (f DataSourceFunc) Data(r *http.Request) (any, error) { return f(r) }

// PaddedHandler serves src for script-tag loading.
//
//	GET /json?callback=callback0 → callback0({"string":"foobar"});
//	GET /json                    → {"string":"foobar"}
func PaddedHandler(src DataSource, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		callback := r.URL.Query().Get(protocol.CallbackParam)
		if callback != "" && !protocol.ValidCallback(callback) {
			http.Error(w, "invalid callback name", http.StatusBadRequest)
			return
		}

		value, err := src.Data(r)
		if err != nil {
			logger.Warn("padded data source failed", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		payload, err := json.Marshal(value)
		if err != nil {
			logger.Error("encoding padded payload", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		if callback == "" {
			w.Header().Set("Content-Type", "application/json")
			w.Write(payload)
			return
		}
		w.Header().Set("Content-Type", protocol.ContentType)
		w.Write(protocol.Pad(callback, payload))
	})
}
