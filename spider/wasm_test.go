package spider

import (
	"context"
	"errors"
	"testing"
	"time"
)

// Hand-assembled wasm modules. Both export a one-page memory plus the
// alloc/invoke ABI; alloc always hands out offset 0.

func wasmModule(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

var (
	// (type (func (param i32) (result i32)))
	// (type (func (param i32 i32 i32 i32) (result i64)))
	wasmTypes = []byte{
		0x01, 0x0e, 0x02,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7e,
	}
	wasmFuncs = []byte{0x03, 0x03, 0x02, 0x00, 0x01}
	wasmMem   = []byte{0x05, 0x03, 0x01, 0x00, 0x01}
	// (export "memory") (export "alloc" func 0) (export "invoke" func 1)
	wasmExports = []byte{
		0x07, 0x1b, 0x03,
		0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
		0x05, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00,
		0x06, 0x69, 0x6e, 0x76, 0x6f, 0x6b, 0x65, 0x00, 0x01,
	}
)

// respondingModule's invoke returns ptr=16 len=2, pointing at the "ok"
// data segment: i64.const (16<<32)|2.
func respondingModule() []byte {
	code := []byte{
		0x0a, 0x10, 0x02,
		0x04, 0x00, 0x41, 0x00, 0x0b, // alloc: i32.const 0
		0x09, 0x00, 0x42, 0x82, 0x80, 0x80, 0x80, 0x80, 0x02, 0x0b, // invoke
	}
	data := []byte{
		0x0b, 0x08, 0x01, 0x00,
		0x41, 0x10, 0x0b, // offset 16
		0x02, 0x6f, 0x6b, // "ok"
	}
	return wasmModule(wasmTypes, wasmFuncs, wasmMem, wasmExports, code, data)
}

// loopingModule's invoke is (loop (br 0)): it never returns on its own.
func loopingModule() []byte {
	code := []byte{
		0x0a, 0x10, 0x02,
		0x04, 0x00, 0x41, 0x00, 0x0b, // alloc: i32.const 0
		0x09, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x42, 0x00, 0x0b, // invoke
	}
	return wasmModule(wasmTypes, wasmFuncs, wasmMem, wasmExports, code)
}

func initWasm(t *testing.T, source []byte) Loader {
	t.Helper()
	l := newWasmLoader("demo", "", source)
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(l.Destroy)
	return l
}

// WHAT: invoke's packed ptr/len return is read back out of guest memory.
func TestWasmLoader_Call(t *testing.T) {
	l := initWasm(t, respondingModule())

	out, err := l.Call(context.Background(), "homeContent", map[string]string{"pg": "1"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "ok" {
		t.Fatalf("out = %q, want %q", out, "ok")
	}
	if l.State() != StateReady {
		t.Fatalf("state = %v, want ready", l.State())
	}
}

// WHAT: an expired call context aborts a guest stuck in a hot loop, and the
// dead instance reports destroyed so the factory rebuilds it.
// WHY: pure-wasm loops never reach a host boundary; only the runtime's
// close-on-done hook can stop them, and an aborted module cannot be reused.
func TestWasmLoader_ContextDeadlineAbortsGuest(t *testing.T) {
	l := initWasm(t, loopingModule())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Call(ctx, "spin", nil)
	if err == nil {
		t.Fatal("expected an error from the aborted call")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("abort took %v; the guest was not interrupted", elapsed)
	}

	if l.State() != StateDestroyed {
		t.Fatalf("state after abort = %v, want destroyed", l.State())
	}
	var notReady *ErrNotReady
	if _, err := l.Call(context.Background(), "spin", nil); !errors.As(err, &notReady) {
		t.Fatalf("call on dead instance = %v, want ErrNotReady", err)
	}
}

// WHAT: a module without the alloc/invoke exports fails Init.
func TestWasmLoader_MissingExports(t *testing.T) {
	l := newWasmLoader("demo", "", wasmModule())

	var initErr *ErrInit
	if err := l.Init(context.Background()); !errors.As(err, &initErr) {
		t.Fatalf("Init = %v, want ErrInit", err)
	}
}

// WHAT: invoke returning length 0 surfaces as an empty string, not an error.
func TestWasmLoader_ZeroLengthResult(t *testing.T) {
	// Same as respondingModule but invoke returns i64.const 0 (ptr 0, len 0).
	code := []byte{
		0x0a, 0x0b, 0x02,
		0x04, 0x00, 0x41, 0x00, 0x0b,
		0x04, 0x00, 0x42, 0x00, 0x0b,
	}
	l := initWasm(t, wasmModule(wasmTypes, wasmFuncs, wasmMem, wasmExports, code))

	out, err := l.Call(context.Background(), "emptyContent", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "" {
		t.Fatalf("out = %q, want empty", out)
	}
}
