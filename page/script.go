package page

import (
	"encoding/json"
	"time"

	"github.com/dop251/goja"
)

// exec runs one loaded script in a fresh runtime. Must be called on the loop.
func (p *Page) exec(src string, body []byte) error {
	vm := goja.New()

	for name, value := range p.globals {
		if err := vm.Set(name, value); err != nil {
			return err
		}
	}
	if err := vm.Set("window", vm.NewDynamicObject(&window{page: p, vm: vm})); err != nil {
		return err
	}
	// Padded responses usually call the bare name rather than window[name]
	for _, name := range p.window.Names() {
		if err := vm.Set(name, p.bridge(name)); err != nil {
			return err
		}
	}

	timer := time.AfterFunc(p.execLimit, func() { vm.Interrupt("script execution limit exceeded") })
	defer timer.Stop()

	_, err := vm.RunScript(src, string(body))
	return err
}

// bridge resolves name at call time, so a callback removed after the script started
// is a silent no-op instead of a second delivery.
func (p *Page) bridge(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := p.window.Lookup(name)
		if !ok {
			p.logger.Debug("page: callback no longer registered", "callback", name)
			return goja.Undefined()
		}
		fn(exportPayload(call.Argument(0)))
		return goja.Undefined()
	}
}

// exportPayload converts a script value into JSON. null and undefined become nil.
func exportPayload(v goja.Value) json.RawMessage {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return nil
	}
	return data
}

// window is the script-visible global object: registered callbacks first, then host globals.
type window struct {
	page *Page
	vm   *goja.Runtime
}

func (w *window) Get(key string) goja.Value {
	if _, ok := w.page.window.Lookup(key); ok {
		return w.vm.ToValue(w.page.bridge(key))
	}
	if v, ok := w.page.globals[key]; ok {
		return w.vm.ToValue(v)
	}
	return nil
}

// Set is refused: callbacks are owned by the Go side of the namespace.
func (w *window) Set(string, goja.Value) bool { return false }

func (w *window) Has(key string) bool {
	if _, ok := w.page.window.Lookup(key); ok {
		return true
	}
	_, ok := w.page.globals[key]
	return ok
}

func (w *window) Delete(string) bool { return false }

func (w *window) Keys() []string {
	keys := w.page.window.Names()
	for name := range w.page.globals {
		keys = append(keys, name)
	}
	return keys
}
