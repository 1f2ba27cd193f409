package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bobo-rpc/message"
	"bobo-rpc/protocol"
	"bobo-rpc/registry"
)

// DefaultScriptTimeout is how long a padded script has to invoke its callback.
const DefaultScriptTimeout = 1000 * time.Millisecond

// Document is the execution environment a ScriptTransport injects into.
// page.Page is the production implementation.
type Document interface {
	// Window is the global callback namespace the remote script calls into.
	Window() *registry.Callbacks
	// InjectScript attaches a script element loading src and returns its removal.
	InjectScript(src string) (remove func())
	// SetTimeout arms a one-shot timer and returns its cancellation.
	SetTimeout(d time.Duration, fn func()) (cancel func())
}

// ScriptTransport performs cross-origin calls by script injection.
//
// Pending-call lifecycle:
//
//	Insert callback → arm timer → inject script
//	   ├─ callback fires first ─┐
//	   └─ timer fires first ────┴─► CAS Pending→Resolved → cleanup → done (once)
//
// The loser of the race finds the call already resolved and does nothing, so a slow
// payload arriving after the timeout is discarded.
//
// A timeout is delivered as an absent payload with no error. Callers cannot tell it apart
// from a remote that explicitly sent null. Closing the page fires every armed timer,
// so calls pending at that point, or issued afterwards, also end this way.
type ScriptTransport struct {
	doc     Document
	timeout time.Duration
	logger  *slog.Logger
}

// ScriptOption configures a ScriptTransport.
type ScriptOption func(*ScriptTransport)

// WithScriptTimeout overrides DefaultScriptTimeout.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(t *ScriptTransport) { t.timeout = d }
}

// WithScriptLogger sets the logger used for timeouts and late payloads.
func WithScriptLogger(l *slog.Logger) ScriptOption {
	return func(t *ScriptTransport) { t.logger = l }
}

// NewScriptTransport creates a transport injecting into doc.
func NewScriptTransport(doc Document, opts ...ScriptOption) *ScriptTransport {
	t := &ScriptTransport{
		doc:     doc,
		timeout: DefaultScriptTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

const (
	statePending int32 = iota
	stateResolved
)

// pendingCall ties a callback name, an injection point and a timer to one completion.
type pendingCall struct {
	name  string
	state atomic.Int32
	done  message.Done

	mu           sync.Mutex
	cleaned      bool
	removeScript func()
	cancelTimer  func()
}

// Call fetches call.Address with the callback parameter and delivers the payload.
// Method and Params are not transmitted; the data address identifies the resource.
func (t *ScriptTransport) Call(_ context.Context, call *message.Call, done message.Done) {
	name := protocol.CallbackName(call.ID)

	src, err := protocol.WithCallback(call.Address, name)
	if err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}

	pc := &pendingCall{name: name, done: done}

	window := t.doc.Window()
	if err := window.Insert(name, func(payload json.RawMessage) { t.resolve(pc, payload, false) }); err != nil {
		done(nil, &TransportError{Cause: err})
		return
	}

	cancelTimer := t.doc.SetTimeout(t.timeout, func() { t.resolve(pc, nil, true) })
	removeScript := t.doc.InjectScript(src)

	// The call may already have resolved on another goroutine before the handles were
	// stored; in that case cleanup skipped them and they are released here.
	pc.mu.Lock()
	if pc.cleaned {
		pc.mu.Unlock()
		cancelTimer()
		removeScript()
		return
	}
	pc.removeScript = removeScript
	pc.cancelTimer = cancelTimer
	pc.mu.Unlock()
}

// resolve is entered by both the callback and the timer. Only the first caller wins.
func (t *ScriptTransport) resolve(pc *pendingCall, payload json.RawMessage, timedOut bool) {
	if !pc.state.CompareAndSwap(statePending, stateResolved) {
		t.logger.Debug("script call already resolved, payload discarded", "callback", pc.name)
		return
	}

	t.cleanup(pc)

	if timedOut {
		t.logger.Debug("script call timed out", "callback", pc.name, "timeout", t.timeout)
	}
	pc.done(payload, nil)
}

// cleanup removes the injection point and the callback registration. Runs once per call.
func (t *ScriptTransport) cleanup(pc *pendingCall) {
	pc.mu.Lock()
	pc.cleaned = true
	removeScript, cancelTimer := pc.removeScript, pc.cancelTimer
	pc.mu.Unlock()

	if cancelTimer != nil {
		cancelTimer()
	}
	if removeScript != nil {
		removeScript()
	}
	t.doc.Window().Remove(pc.name)
}
