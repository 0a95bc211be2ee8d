// CLAUDE:SUMMARY Script-engine loader — goja JS runtime, global function dispatch, Interrupt wired to ctx.
package spider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// scriptLoader runs a JS plugin inside a goja VM. The VM is not
// goroutine-safe, so every entry point holds the mutex.
//
// Plugin contract: top-level functions named after methods, each taking a
// params object and returning a string or a JSON-serializable value. An
// optional init(ext) function receives the descriptor's extension payload.
type scriptLoader struct {
	state
	mu      sync.Mutex
	vm      *goja.Runtime
	siteKey string
	ext     string
	program string
}

func newScriptLoader(siteKey, ext string, source []byte) Loader {
	return &scriptLoader{
		siteKey: siteKey,
		ext:     ext,
		program: string(source),
	}
}

func (l *scriptLoader) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.get() == StateDestroyed {
		return &ErrNotReady{Site: l.siteKey, State: StateDestroyed}
	}
	l.set(StateInitializing)

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	stop := interruptOnDone(ctx, vm)
	defer stop()

	if _, err := vm.RunString(l.program); err != nil {
		l.set(StateUninitialized)
		return &ErrInit{Site: l.siteKey, Cause: scriptErr(ctx, err)}
	}

	if initFn, ok := goja.AssertFunction(vm.Get("init")); ok {
		if _, err := initFn(goja.Undefined(), vm.ToValue(l.ext)); err != nil {
			l.set(StateUninitialized)
			return &ErrInit{Site: l.siteKey, Cause: scriptErr(ctx, err)}
		}
	}

	l.vm = vm
	l.set(StateReady)
	return nil
}

func (l *scriptLoader) Call(ctx context.Context, method string, params map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready() {
		return "", &ErrNotReady{Site: l.siteKey, State: l.get()}
	}

	fn, ok := goja.AssertFunction(l.vm.Get(method))
	if !ok {
		return "", &ErrMethodNotFound{Site: l.siteKey, Method: method}
	}

	stop := interruptOnDone(ctx, l.vm)
	defer stop()

	res, err := fn(goja.Undefined(), l.vm.ToValue(params))
	if err != nil {
		return "", scriptErr(ctx, err)
	}
	return stringify(res)
}

func (l *scriptLoader) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vm = nil
	l.set(StateDestroyed)
}

func (l *scriptLoader) State() State { return l.get() }

// interruptOnDone cancels the VM when ctx fires. The returned stop function
// must run before the mutex is released so a late interrupt can't hit the
// next caller's execution.
func interruptOnDone(ctx context.Context, vm *goja.Runtime) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		vm.ClearInterrupt()
	}
}

// scriptErr maps a goja interrupt back to the ctx error so callers see a
// deadline, not an engine internal.
func scriptErr(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// stringify renders a JS return value: strings pass through, null/undefined
// become empty (the caller treats that as EmptyResult), everything else is
// JSON-encoded.
func stringify(v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return "", fmt.Errorf("spider: encode script result: %w", err)
	}
	return string(data), nil
}
