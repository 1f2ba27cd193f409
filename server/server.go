// Package server implements the JSON-RPC 2.0 over HTTP service side, with reflective
// service registration, batch handling, a padded data endpoint and graceful shutdown.
//
// Request processing pipeline:
//
//	POST /rpc → ServeHTTP → parse body (single object or batch)
//	  → for each message: validate → find method → decode params → reflect.Call
//	  → collect responses (notifications get none) → write status + JSON
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bobo-rpc/message"
)

// ContentType is set on every JSON-RPC response.
const ContentType = "application/json-rpc"

const maxBodySize = 10 << 20

// Publisher announces the server address while it is serving.
// config.EtcdAddress satisfies it.
type Publisher interface {
	Publish(ctx context.Context, addr string, ttl int64) error
	Withdraw(ctx context.Context) error
}

// Server is the JSON-RPC server that registers services and handles incoming requests.
type Server struct {
	mu         sync.RWMutex
	methods    map[string]*boundMethod // "data" → method of a registered service
	mux        *http.ServeMux          // rpcPath plus any routes added with Handle
	rpcPath    string
	httpServer *http.Server
	shutdown   atomic.Bool

	logger        *slog.Logger
	requests      *prometheus.CounterVec // nil unless WithRegisterer
	publisher     Publisher              // nil if not announcing the address
	advertiseAddr string                 // Address published, e.g. "http://10.0.0.5:8080"
	publishTTL    int64
}

type boundMethod struct {
	svc *service
	mt  *methodType
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRPCPath moves the JSON-RPC endpoint, "/rpc" by default.
func WithRPCPath(path string) Option {
	return func(s *Server) { s.rpcPath = path }
}

// WithPublisher announces advertiseAddr through pub once the listener is up, and
// withdraws it first thing on Shutdown. ttl is the lease in seconds.
func WithPublisher(pub Publisher, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.publisher = pub
		s.advertiseAddr = advertiseAddr
		s.publishTTL = ttl
	}
}

// WithRegisterer counts handled messages as bobo_rpc_server_requests_total{method,code}.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bobo_rpc_server_requests_total",
			Help: "JSON-RPC messages handled, by method and error code (0 for success).",
		}, []string{"method", "code"})
		reg.MustRegister(s.requests)
	}
}

// NewServer creates a server with no services registered.
func NewServer(opts ...Option) *Server {
	s := &Server{
		methods:    make(map[string]*boundMethod),
		mux:        http.NewServeMux(),
		rpcPath:    "/rpc",
		logger:     slog.Default(),
		publishTTL: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.Handle(s.rpcPath, s)
	return s
}

// Register exposes the exported methods of rcvr (e.g. &DataService{}) under their
// names with the first letter lower-cased.
func (s *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range svc.method {
		if prev, ok := s.methods[name]; ok {
			return fmt.Errorf("rpc: method %s of %s already registered by %s", name, svc.name, prev.svc.name)
		}
	}
	for name, mt := range svc.method {
		s.methods[name] = &boundMethod{svc: svc, mt: mt}
	}
	return nil
}

// Handle adds a route next to the JSON-RPC endpoint, e.g. the padded data endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the full route table, for use with httptest or a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe listens on addr and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	hs := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = hs
	s.mu.Unlock()

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.publisher.Publish(ctx, s.advertiseAddr, s.publishTTL)
		cancel()
		if err != nil {
			ln.Close()
			return fmt.Errorf("rpc: publish address: %w", err)
		}
		s.logger.Info("published service address", "addr", s.advertiseAddr)
	}

	s.logger.Info("serving json-rpc", "addr", ln.Addr().String(), "path", s.rpcPath)
	err := hs.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) && s.shutdown.Load() {
		return nil
	}
	return err
}

// Shutdown performs graceful shutdown:
//  1. Withdraw the published address (clients stop resolving this server)
//  2. Stop accepting connections
//  3. Wait for in-flight requests to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.publisher != nil {
		if err := s.publisher.Withdraw(ctx); err != nil {
			s.logger.Warn("withdrawing service address failed", "err", err)
		}
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	hs := s.httpServer
	s.mu.Unlock()
	if hs == nil {
		return nil
	}

	if err := hs.Shutdown(ctx); err != nil {
		return fmt.Errorf("timeout waiting for ongoing requests to finish: %w", err)
	}
	return nil
}

// request is one validated message of a request body.
type request struct {
	id           json.RawMessage // Echoed back verbatim; nil when absent
	notification bool
	method       string
	params       json.RawMessage
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", ContentType)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse(nil, InvalidRequest("only POST is supported")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, InvalidRequest("reading body: %v", err)))
		return
	}

	batch, raws, rerr := splitBody(body)
	if rerr != nil {
		s.logger.Info("rejected json-rpc body", "err", rerr.Message)
		writeJSON(w, rerr.Status(), errorResponse(nil, rerr))
		return
	}

	var (
		replies []*message.Response
		status  = http.StatusOK
	)
	for _, raw := range raws {
		resp, st := s.handleMessage(r.Context(), raw)
		if resp == nil {
			continue
		}
		replies = append(replies, resp)
		status = st
	}

	switch {
	case len(replies) == 0:
		// Only notifications were sent
		w.WriteHeader(http.StatusNoContent)
	case batch:
		writeJSON(w, http.StatusOK, replies)
	default:
		writeJSON(w, status, replies[0])
	}
}

// splitBody parses the body into its messages. A top-level array is a batch and
// must not be empty.
func splitBody(body []byte) (bool, []json.RawMessage, *Error) {
	var top json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return false, nil, ParseError("%v", err)
	}
	top = bytes.TrimSpace(top)
	if top[0] != '[' {
		return false, []json.RawMessage{top}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(top, &raws); err != nil {
		return true, nil, ParseError("%v", err)
	}
	if len(raws) == 0 {
		return true, nil, InvalidRequest("received an empty batch")
	}
	return true, raws, nil
}

// handleMessage executes one message. It returns a nil response for notifications.
func (s *Server) handleMessage(ctx context.Context, raw json.RawMessage) (*message.Response, int) {
	req, rerr := parseRequest(raw)
	if rerr != nil {
		s.logger.Info("invalid json-rpc message", "err", rerr.Message)
		s.count("", rerr.Code)
		var id json.RawMessage
		if req != nil {
			id = req.id
		}
		return errorResponse(id, rerr), rerr.Status()
	}

	result, rerr := s.execute(ctx, req)
	if req.notification {
		if rerr != nil {
			s.logger.Info("notification failed", "method", req.method, "err", rerr.Message)
		}
		return nil, 0
	}
	if rerr != nil {
		return errorResponse(req.id, rerr), rerr.Status()
	}
	return &message.Response{JSONRPC: message.Version, Result: result, ID: req.id}, http.StatusOK
}

var allowedMembers = map[string]bool{"method": true, "jsonrpc": true, "params": true, "id": true}

// parseRequest validates a single message. On error the returned request, if any,
// carries only the id so it can be echoed.
func parseRequest(raw json.RawMessage) (*request, *Error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		return nil, InvalidRequest("message must be an object")
	}

	req := &request{}
	if id, ok := members["id"]; ok {
		req.id = id
	} else {
		req.notification = true
	}

	for name := range members {
		if !allowedMembers[name] {
			return req, InvalidRequest("invalid member %q in request object", name)
		}
	}

	var version string
	if err := json.Unmarshal(members["jsonrpc"], &version); err != nil || version != message.Version {
		return req, InvalidRequest("only JSON-RPC 2.0 is supported")
	}

	rawMethod, ok := members["method"]
	if !ok {
		return req, InvalidRequest("no method specified")
	}
	if err := json.Unmarshal(rawMethod, &req.method); err != nil {
		return req, InvalidRequest("method must be a string")
	}

	if params, ok := members["params"]; ok {
		params = bytes.TrimSpace(params)
		if len(params) == 0 || (params[0] != '[' && params[0] != '{') {
			return req, InvalidRequest("params must be an array or object")
		}
		req.params = params
	}
	return req, nil
}

// execute finds and invokes the method. Panics become internal errors whose data is
// the panic text.
func (s *Server) execute(ctx context.Context, req *request) (result json.RawMessage, rerr *Error) {
	s.mu.RLock()
	bm, ok := s.methods[req.method]
	s.mu.RUnlock()
	if !ok {
		s.count("", CodeMethodNotFound)
		return nil, MethodNotFound("%s", req.method)
	}

	defer func() {
		if rerr != nil {
			s.count(req.method, rerr.Code)
		} else {
			s.count(req.method, 0)
		}
	}()

	args, rerr := bm.mt.decodeParams(req.params)
	if rerr != nil {
		return nil, rerr
	}

	value, err := s.invoke(ctx, bm, args)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		return nil, ServerError("%v", err)
	}

	result, err = json.Marshal(value)
	if err != nil {
		return nil, InternalError("encoding result of %s: %v", req.method, err)
	}
	return result, nil
}

func (s *Server) invoke(ctx context.Context, bm *boundMethod, args []reflect.Value) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("service method panicked", "method", bm.mt.name, "panic", r)
			ierr := InternalError("error executing service method")
			ierr.Data = fmt.Sprint(r)
			err = ierr
		}
	}()
	return bm.svc.Call(ctx, bm.mt, args)
}

func (s *Server) count(method string, code int) {
	if s.requests == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	s.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func errorResponse(id json.RawMessage, e *Error) *message.Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &message.Response{JSONRPC: message.Version, Error: e.wire(), ID: id}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(data)
}
