// CLAUDE:SUMMARY Bytecode loader — wazero wasm module with an alloc/invoke guest ABI.
package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Guest ABI, kept deliberately small:
//
//	alloc(size u32) -> ptr u32                     — guest-side allocation
//	init(ptr u32, len u32) -> errno u32 (optional) — receives the ext payload
//	invoke(mPtr, mLen, pPtr, pLen u32) -> u64      — method name + params JSON,
//	                                                 returns ptr<<32|len of the
//	                                                 UTF-8 response in memory
//
// A returned length of 0 means the plugin produced no result (EmptyResult
// at the crawl layer).
type wasmLoader struct {
	state
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	siteKey string
	ext     string
	source  []byte
}

func newWasmLoader(siteKey, ext string, source []byte) Loader {
	return &wasmLoader{
		siteKey: siteKey,
		ext:     ext,
		source:  source,
	}
}

func (l *wasmLoader) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.get() == StateDestroyed {
		return &ErrNotReady{Site: l.siteKey, State: StateDestroyed}
	}
	l.set(StateInitializing)

	// CloseOnContextDone makes an expired call context abort an in-flight
	// guest function. Without it a looping plugin would run forever; the
	// invoke path imports no host functions, so there is no other point
	// where wazero observes the context.
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	mod, err := r.Instantiate(ctx, l.source)
	if err != nil {
		r.Close(ctx)
		l.set(StateUninitialized)
		return &ErrInit{Site: l.siteKey, Cause: err}
	}

	if mod.ExportedFunction("invoke") == nil || mod.ExportedFunction("alloc") == nil {
		r.Close(ctx)
		l.set(StateUninitialized)
		return &ErrInit{Site: l.siteKey, Cause: fmt.Errorf("module missing alloc/invoke exports")}
	}

	if initFn := mod.ExportedFunction("init"); initFn != nil && l.ext != "" {
		ptr, err := writeString(ctx, mod, l.ext)
		if err == nil {
			_, err = initFn.Call(ctx, uint64(ptr), uint64(len(l.ext)))
		}
		if err != nil {
			r.Close(ctx)
			l.set(StateUninitialized)
			return &ErrInit{Site: l.siteKey, Cause: err}
		}
	}

	l.runtime = r
	l.module = mod
	l.set(StateReady)
	return nil
}

func (l *wasmLoader) Call(ctx context.Context, method string, params map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready() {
		return "", &ErrNotReady{Site: l.siteKey, State: l.get()}
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("spider: encode params: %w", err)
	}

	mPtr, err := writeString(ctx, l.module, method)
	if err != nil {
		return "", err
	}
	pPtr, err := writeString(ctx, l.module, string(paramsJSON))
	if err != nil {
		return "", err
	}

	res, err := l.module.ExportedFunction("invoke").Call(ctx,
		uint64(mPtr), uint64(len(method)), uint64(pPtr), uint64(len(paramsJSON)))
	if err != nil {
		// A context abort closes the whole module, so this instance cannot
		// serve further calls. Mark it destroyed; the factory builds a
		// fresh one on the next request.
		if ctx.Err() != nil {
			l.closeLocked()
			return "", ctx.Err()
		}
		return "", err
	}

	packed := res[0]
	ptr, length := uint32(packed>>32), uint32(packed)
	if length == 0 {
		return "", nil
	}
	data, ok := l.module.Memory().Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("spider: plugin %s returned out-of-range memory (%d+%d)", l.siteKey, ptr, length)
	}
	// Copy before the guest reuses the allocation.
	out := make([]byte, length)
	copy(out, data)
	return string(out), nil
}

func (l *wasmLoader) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

// closeLocked releases the runtime and marks the loader destroyed. Caller
// holds l.mu.
func (l *wasmLoader) closeLocked() {
	if l.runtime != nil {
		l.runtime.Close(context.Background())
		l.runtime = nil
		l.module = nil
	}
	l.set(StateDestroyed)
}

func (l *wasmLoader) State() State { return l.get() }

func writeString(ctx context.Context, mod api.Module, s string) (uint32, error) {
	res, err := mod.ExportedFunction("alloc").Call(ctx, uint64(len(s)))
	if err != nil {
		return 0, fmt.Errorf("spider: guest alloc: %w", err)
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, []byte(s)) {
		return 0, fmt.Errorf("spider: guest memory write at %d failed", ptr)
	}
	return ptr, nil
}
