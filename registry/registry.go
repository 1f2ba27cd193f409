// Package registry is the correlation registry shared by every transport.
//
// It has two halves:
//   - Sequence hands out request identifiers: 0, 1, 2, ... never reused.
//   - Callbacks is the process-wide callback namespace that padded scripts call into,
//     the Go equivalent of assigning window[name] in a browser.
//
// Lifecycle of a callback entry: Insert before the call goes out, Remove exactly once
// when the call resolves. The namespace therefore only ever holds in-flight calls.
package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrCallbackExists is returned when a callback name is already registered.
var ErrCallbackExists = errors.New("registry: callback already registered")

// Sequence issues strictly increasing request identifiers starting at 0.
type Sequence struct {
	next atomic.Uint64
}

// Next returns the next identifier. Safe for concurrent use.
func (s *Sequence) Next() uint64 {
	return s.next.Add(1) - 1
}

// Callback receives a padded payload. A nil payload means the script passed null or nothing.
type Callback func(payload json.RawMessage)

// Callbacks maps generated callback names to their one-shot handlers.
type Callbacks struct {
	mu  sync.RWMutex
	fns map[string]Callback
}

// NewCallbacks creates an empty namespace.
func NewCallbacks() *Callbacks {
	return &Callbacks{fns: make(map[string]Callback)}
}

// Insert registers fn under name. Names are never silently overwritten.
func (c *Callbacks) Insert(name string, fn Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fns[name]; ok {
		return ErrCallbackExists
	}
	c.fns[name] = fn
	return nil
}

// Remove deletes name and reports whether it was registered.
func (c *Callbacks) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fns[name]; !ok {
		return false
	}
	delete(c.fns, name)
	return true
}

// Lookup returns the callback registered under name.
func (c *Callbacks) Lookup(name string) (Callback, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.fns[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (c *Callbacks) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.fns))
	for name := range c.fns {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of in-flight entries.
func (c *Callbacks) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fns)
}
