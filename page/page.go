// Package page emulates the browser page that cross-origin calls run in.
//
// A Page owns a single event loop goroutine. Script execution, callback invocation and
// timer handlers are all delivered as discrete tasks on that loop, so they never run in
// parallel with each other:
//
//	InjectScript(src) ──fetch (off-loop)──► Post(exec) ─┐
//	SetTimeout(d, fn) ──time.AfterFunc────► Post(fn)  ──┼──► loop: task, task, task ...
//	Post(task) ─────────────────────────────────────────┘
//
// Timers still armed when the page closes run once the loop has stopped, so a
// handler waiting on a timeout is never lost.
//
// Loaded scripts run in a fresh goja runtime. Inside the script, window[name] and the
// bare global name resolve to the callbacks registered in Window().
package page

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bobo-rpc/registry"
)

const (
	maxScriptSize    = 10 << 20 // 10 MiB
	defaultExecLimit = 5 * time.Second
	taskQueueSize    = 64
)

// Page is a single-threaded cooperative execution environment.
type Page struct {
	client    *http.Client
	window    *registry.Callbacks
	globals   map[string]any
	logger    *slog.Logger
	execLimit time.Duration

	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	loads     sync.WaitGroup

	mu      sync.Mutex
	scripts map[*scriptElement]struct{} // Injection points currently attached to the document
	timers  map[*timer]struct{}         // SetTimeout handlers not yet run or disarmed
}

type timer struct {
	t  *time.Timer
	fn func()
}

// scriptElement is one injection point.
type scriptElement struct {
	src    string
	cancel context.CancelFunc
}

// Option configures a Page.
type Option func(*Page)

// WithHTTPClient sets the client used to load injected scripts.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

// WithCallbacks shares an existing callback namespace with the page.
func WithCallbacks(cbs *registry.Callbacks) Option {
	return func(p *Page) { p.window = cbs }
}

// WithGlobal defines a host-page global, e.g. SERVICE_URL.
func WithGlobal(name string, value any) Option {
	return func(p *Page) { p.globals[name] = value }
}

// WithLogger sets the logger for load and execution failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// WithExecLimit bounds how long one script may run before it is interrupted.
func WithExecLimit(d time.Duration) Option {
	return func(p *Page) { p.execLimit = d }
}

// New creates a page and starts its event loop. Call Close to stop it.
func New(opts ...Option) *Page {
	p := &Page{
		client:    &http.Client{Timeout: 30 * time.Second},
		globals:   make(map[string]any),
		logger:    slog.Default(),
		execLimit: defaultExecLimit,
		tasks:     make(chan func(), taskQueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		scripts:   make(map[*scriptElement]struct{}),
		timers:    make(map[*timer]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.window == nil {
		p.window = registry.NewCallbacks()
	}
	go p.run()
	return p
}

// Window returns the page's global callback namespace.
func (p *Page) Window() *registry.Callbacks {
	return p.window
}

// Global returns a host-page global defined with WithGlobal.
func (p *Page) Global(name string) (any, bool) {
	v, ok := p.globals[name]
	return v, ok
}

// Scripts returns the number of attached injection points.
func (p *Page) Scripts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scripts)
}

// Post queues task on the event loop. It returns false once the page is closed.
//
// The queue is bounded, so a task that posts many tasks itself can block the loop.
// Code running on the loop should arm a zero SetTimeout instead.
func (p *Page) Post(task func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.quit:
		return false
	}
}

// SetTimeout runs fn on the event loop after d. The returned function disarms the timer.
//
// Timers still armed at Close run after the loop stops. On a closed page fn runs
// at once on the calling goroutine.
func (p *Page) SetTimeout(d time.Duration, fn func()) (cancel func()) {
	tm := &timer{fn: fn}

	p.mu.Lock()
	select {
	case <-p.quit:
		p.mu.Unlock()
		fn()
		return func() {}
	default:
	}
	p.timers[tm] = struct{}{}
	tm.t = time.AfterFunc(d, func() { p.fire(tm) })
	p.mu.Unlock()

	return func() {
		if p.disarm(tm) {
			tm.t.Stop()
		}
	}
}

// fire hands an expired timer to the loop, or runs it directly if the loop is gone.
// A timer stays in p.timers until it runs, so Close also runs one queued too late.
func (p *Page) fire(tm *timer) {
	if !p.Post(func() { p.runTimer(tm) }) {
		<-p.done
		p.runTimer(tm)
	}
}

func (p *Page) runTimer(tm *timer) {
	if p.disarm(tm) {
		p.runTask(tm.fn)
	}
}

// disarm removes tm and reports whether it was still armed.
func (p *Page) disarm(tm *timer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.timers[tm]; !ok {
		return false
	}
	delete(p.timers, tm)
	return true
}

// InjectScript attaches a script element whose source is src. The script is loaded in
// the background and executed on the loop if it is still attached when it arrives.
// A script that fails to load is never executed and produces no signal, as in a browser.
//
// The returned function detaches the element; calling it more than once is harmless.
func (p *Page) InjectScript(src string) (remove func()) {
	ctx, cancel := context.WithCancel(context.Background())
	el := &scriptElement{src: src, cancel: cancel}

	p.mu.Lock()
	select {
	case <-p.quit:
		p.mu.Unlock()
		cancel()
		return func() {}
	default:
	}
	p.scripts[el] = struct{}{}
	p.loads.Add(1)
	p.mu.Unlock()

	go p.load(ctx, el)

	return func() { p.detach(el) }
}

// Close stops the event loop and abandons pending script loads. Armed timers run
// before Close returns.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.quit)
		for el := range p.scripts {
			el.cancel()
		}
		p.mu.Unlock()
		<-p.done

		p.mu.Lock()
		armed := make([]*timer, 0, len(p.timers))
		for tm := range p.timers {
			armed = append(armed, tm)
		}
		clear(p.timers)
		p.mu.Unlock()
		for _, tm := range armed {
			tm.t.Stop()
			p.runTask(tm.fn)
		}
		p.loads.Wait()
	})
}

func (p *Page) detach(el *scriptElement) {
	p.mu.Lock()
	delete(p.scripts, el)
	p.mu.Unlock()
	el.cancel()
}

func (p *Page) attached(el *scriptElement) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.scripts[el]
	return ok
}

func (p *Page) run() {
	defer close(p.done)
	for {
		select {
		case task := <-p.tasks:
			p.runTask(task)
		case <-p.quit:
			return
		}
	}
}

// runTask keeps the loop alive when a task panics.
func (p *Page) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("page: task panicked", "panic", r)
		}
	}()
	task()
}

func (p *Page) load(ctx context.Context, el *scriptElement) {
	defer p.loads.Done()

	body, err := p.fetch(ctx, el.src)
	if err != nil {
		p.logger.Debug("page: script load failed", "src", el.src, "err", err)
		return
	}

	p.Post(func() {
		if !p.attached(el) {
			p.logger.Debug("page: script arrived after removal", "src", el.src)
			return
		}
		if err := p.exec(el.src, body); err != nil {
			p.logger.Warn("page: script error", "src", el.src, "err", err)
		}
	})
}

func (p *Page) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
}
